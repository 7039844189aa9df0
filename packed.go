// Package erc7806 implements the ERC-7806 packed UserIntent codec, the
// standard dispatch contract and the relayed-execution standard.
//
// A packed intent is a contiguous byte buffer:
//
//	sender(20) standard(20) headerLength(2) instructionsLength(2) signatureLength(2)
//	header instructions signature [extra data]
//
// All integers are unsigned big-endian. Segments are bounded by the 16-bit
// length fields, so a single segment never exceeds 65535 bytes. Bytes after
// the signature are opaque extra data (nested intents, for example) and are
// never consumed by the base codec.
package erc7806

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

const (
	AddressLength     = common.AddressLength
	LengthFieldSize   = 2
	SenderOffset      = 0
	StandardOffset    = SenderOffset + AddressLength
	LengthsOffset     = StandardOffset + AddressLength
	SenderStandardLen = LengthsOffset
	// PrefixLength is the size of the fixed prefix before the header segment.
	PrefixLength = LengthsOffset + 3*LengthFieldSize
)

// Segments are the sub-slices of a packed intent. They alias the buffer they
// were cut from.
type Segments struct {
	Sender       common.Address
	Standard     common.Address
	Header       []byte
	Instructions []byte
	Signature    []byte
	Extra        []byte
}

// GetSenderAndStandard reads the sender and standard addresses.
func GetSenderAndStandard(intent []byte) (common.Address, common.Address, error) {
	if len(intent) < SenderStandardLen {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %d bytes, need at least %d for sender and standard",
			ErrMalformedIntent, len(intent), SenderStandardLen)
	}
	sender := common.BytesToAddress(intent[SenderOffset:StandardOffset])
	standard := common.BytesToAddress(intent[StandardOffset:LengthsOffset])
	return sender, standard, nil
}

// GetLengths reads the header, instructions and signature lengths.
func GetLengths(intent []byte) (uint16, uint16, uint16, error) {
	if len(intent) < PrefixLength {
		return 0, 0, 0, fmt.Errorf("%w: %d bytes, need at least %d for the length fields",
			ErrMalformedIntent, len(intent), PrefixLength)
	}
	offset := LengthsOffset
	headerLength := binary.BigEndian.Uint16(intent[offset : offset+LengthFieldSize])
	offset += LengthFieldSize
	instructionsLength := binary.BigEndian.Uint16(intent[offset : offset+LengthFieldSize])
	offset += LengthFieldSize
	signatureLength := binary.BigEndian.Uint16(intent[offset : offset+LengthFieldSize])
	return headerLength, instructionsLength, signatureLength, nil
}

// TotalIntentLength returns the number of bytes the intent at the start of
// the buffer declares for itself: the prefix plus its three segments. Callers
// use it to cut concatenated intents out of one transport buffer.
func TotalIntentLength(intent []byte) (int, error) {
	headerLength, instructionsLength, signatureLength, err := GetLengths(intent)
	if err != nil {
		return 0, err
	}
	return PrefixLength + int(headerLength) + int(instructionsLength) + int(signatureLength), nil
}

// GetSegments cuts the intent into its segments. The buffer may be longer
// than the declared total; the remainder is returned as Extra.
func GetSegments(intent []byte) (*Segments, error) {
	sender, standard, err := GetSenderAndStandard(intent)
	if err != nil {
		return nil, err
	}
	headerLength, instructionsLength, signatureLength, err := GetLengths(intent)
	if err != nil {
		return nil, err
	}

	total := PrefixLength + int(headerLength) + int(instructionsLength) + int(signatureLength)
	if len(intent) < total {
		return nil, fmt.Errorf("%w: declared length %d exceeds buffer length %d", ErrMalformedIntent, total, len(intent))
	}

	offset := PrefixLength
	header := intent[offset : offset+int(headerLength)]
	offset += int(headerLength)
	instructions := intent[offset : offset+int(instructionsLength)]
	offset += int(instructionsLength)
	signature := intent[offset : offset+int(signatureLength)]
	offset += int(signatureLength)

	return &Segments{
		Sender:       sender,
		Standard:     standard,
		Header:       header,
		Instructions: instructions,
		Signature:    signature,
		Extra:        intent[offset:],
	}, nil
}

// Pack builds a packed intent. Segments longer than math.MaxUint16 are
// rejected rather than truncated.
func Pack(sender, standard common.Address, header, instructions, signature []byte) ([]byte, error) {
	return PackWithExtra(sender, standard, header, instructions, signature, nil)
}

// PackWithExtra is Pack followed by an opaque extra-data tail.
func PackWithExtra(sender, standard common.Address, header, instructions, signature, extra []byte) ([]byte, error) {
	for _, segment := range []struct {
		name string
		data []byte
	}{
		{"header", header},
		{"instructions", instructions},
		{"signature", signature},
	} {
		if len(segment.data) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %s length exceeds maximum uint16 value: %d",
				ErrMalformedIntent, segment.name, len(segment.data))
		}
	}

	totalLength := PrefixLength + len(header) + len(instructions) + len(signature) + len(extra)
	packed := make([]byte, totalLength)
	offset := 0

	copy(packed[offset:], sender.Bytes())
	offset += AddressLength
	copy(packed[offset:], standard.Bytes())
	offset += AddressLength

	binary.BigEndian.PutUint16(packed[offset:], uint16(len(header)))
	offset += LengthFieldSize
	binary.BigEndian.PutUint16(packed[offset:], uint16(len(instructions)))
	offset += LengthFieldSize
	binary.BigEndian.PutUint16(packed[offset:], uint16(len(signature)))
	offset += LengthFieldSize

	copy(packed[offset:], header)
	offset += len(header)
	copy(packed[offset:], instructions)
	offset += len(instructions)
	copy(packed[offset:], signature)
	offset += len(signature)
	copy(packed[offset:], extra)

	return packed, nil
}
