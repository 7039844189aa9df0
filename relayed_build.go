package erc7806

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RelayedIntent is the structured form of a relayed-execution intent, used
// by signers and tooling to build and inspect buffers.
type RelayedIntent struct {
	Sender          common.Address
	Expiry          uint64
	AssignedRelayer *common.Address
	PaymentToken    common.Address
	PaymentAmount   *big.Int
	Executions      []Execution
	Signature       []byte
}

// Header encodes the expiry and the optional assigned relayer.
func (ri *RelayedIntent) Header() []byte {
	if ri.AssignedRelayer == nil {
		header := make([]byte, HeaderLength)
		binary.BigEndian.PutUint64(header, ri.Expiry)
		return header
	}
	header := make([]byte, HeaderWithRelayerLength)
	binary.BigEndian.PutUint64(header, ri.Expiry)
	copy(header[ExpiryLength:], ri.AssignedRelayer.Bytes())
	return header
}

// Instructions encodes the payment preamble followed by the execution table.
func (ri *RelayedIntent) Instructions() ([]byte, error) {
	amount := ri.PaymentAmount
	if amount == nil {
		amount = new(big.Int)
	}
	amountBytes, err := ToUint128(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid payment amount: %w", err)
	}
	if len(ri.Executions) > MaxExecutions {
		return nil, fmt.Errorf("%w: %d executions exceed maximum %d", ErrMalformedIntent, len(ri.Executions), MaxExecutions)
	}

	instructions := make([]byte, 0, InstructionsPreambleLength)
	instructions = append(instructions, ri.PaymentToken.Bytes()...)
	instructions = append(instructions, amountBytes...)
	instructions = append(instructions, byte(len(ri.Executions)))

	for i, exec := range ri.Executions {
		entry, err := EncodeExecution(exec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode execution %d: %w", i, err)
		}
		if len(entry) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: execution %d length exceeds maximum uint16 value: %d", ErrMalformedIntent, i, len(entry))
		}
		instructions = binary.BigEndian.AppendUint16(instructions, uint16(len(entry)))
		instructions = append(instructions, entry...)
	}
	return instructions, nil
}

// Payload is the signed region: header followed by instructions.
func (ri *RelayedIntent) Payload() ([]byte, error) {
	instructions, err := ri.Instructions()
	if err != nil {
		return nil, err
	}
	return append(ri.Header(), instructions...), nil
}

// Hash returns the intent hash under the given standard and chain.
func (ri *RelayedIntent) Hash(standard common.Address, chainID *big.Int) (common.Hash, error) {
	payload, err := ri.Payload()
	if err != nil {
		return common.Hash{}, err
	}
	return IntentHash(payload, standard, chainID)
}

// Encode signs the intent with key and packs it for standard on chainID. The
// sender is set to the key's address.
func (ri *RelayedIntent) Encode(standard common.Address, chainID *big.Int, key *ecdsa.PrivateKey) ([]byte, error) {
	ri.Sender = crypto.PubkeyToAddress(key.PublicKey)
	hash, err := ri.Hash(standard, chainID)
	if err != nil {
		return nil, err
	}
	sig, err := SignIntentHash(hash, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign intent: %w", err)
	}
	ri.Signature = sig
	return ri.Pack(standard)
}

// Pack packs the intent with its current signature, without signing.
func (ri *RelayedIntent) Pack(standard common.Address) ([]byte, error) {
	instructions, err := ri.Instructions()
	if err != nil {
		return nil, err
	}
	return Pack(ri.Sender, standard, ri.Header(), instructions, ri.Signature)
}

// DecodeRelayedIntent parses a relayed-execution intent without checking its
// signature, expiry, replay status or funds.
func DecodeRelayedIntent(intent []byte) (*RelayedIntent, common.Address, error) {
	layout, err := parseRelayedLayout(intent)
	if err != nil {
		return nil, common.Address{}, err
	}
	entries, err := layout.executions()
	if err != nil {
		return nil, common.Address{}, err
	}

	token, amount := layout.payment()
	ri := &RelayedIntent{
		Sender:        layout.sender,
		Expiry:        layout.expiry(),
		PaymentToken:  token,
		PaymentAmount: amount,
		Executions:    make([]Execution, 0, len(entries)),
		Signature:     common.CopyBytes(layout.signature),
	}
	if relayer, ok := layout.assignedRelayer(); ok {
		ri.AssignedRelayer = &relayer
	}
	for i, entry := range entries {
		exec, err := DecodeExecution(entry)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("execution %d: %w", i, err)
		}
		ri.Executions = append(ri.Executions, exec)
	}
	return ri, layout.standard, nil
}
