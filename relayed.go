package erc7806

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Relayed-execution layout constants.
const (
	ExpiryLength               = 8
	HeaderLength               = ExpiryLength
	HeaderWithRelayerLength    = ExpiryLength + AddressLength
	PaymentTokenLength         = AddressLength
	PaymentAmountLength        = Uint128Length
	ExecutionCountLength       = 1
	ExecutionLengthSize        = 2
	MinInstructionsLength      = PaymentTokenLength + PaymentAmountLength
	InstructionsPreambleLength = MinInstructionsLength + ExecutionCountLength
	MaxExecutions              = 255
)

// RelayedExecutionStandard lets a relayer execute the intent's operations on
// the sender's behalf in exchange for a payment. The header carries an expiry
// and optionally the only relayer allowed to submit; the instructions carry
// the payment and a length-prefixed execution table.
type RelayedExecutionStandard struct {
	address common.Address
}

// NewRelayedExecutionStandard binds the standard to its own identifier,
// which is part of the signed domain.
func NewRelayedExecutionStandard(address common.Address) *RelayedExecutionStandard {
	return &RelayedExecutionStandard{address: address}
}

// Address implements Standard.
func (s *RelayedExecutionStandard) Address() common.Address {
	return s.address
}

// relayedLayout holds the boundaries of a structurally valid relayed intent.
// Validation and unpacking both derive from it.
type relayedLayout struct {
	sender       common.Address
	standard     common.Address
	payload      []byte
	header       []byte
	instructions []byte
	signature    []byte
}

func parseRelayedLayout(intent []byte) (*relayedLayout, error) {
	segments, err := GetSegments(intent)
	if err != nil {
		return nil, err
	}

	if n := len(segments.Header); n != HeaderLength && n != HeaderWithRelayerLength {
		return nil, fmt.Errorf("%w: header length %d, want %d or %d",
			ErrMalformedIntent, n, HeaderLength, HeaderWithRelayerLength)
	}
	if n := len(segments.Instructions); n < MinInstructionsLength {
		return nil, fmt.Errorf("%w: instructions length %d, want at least %d",
			ErrMalformedIntent, n, MinInstructionsLength)
	}
	if n := len(segments.Signature); n != SignatureLength {
		return nil, fmt.Errorf("%w: signature length %d, want %d", ErrMalformedIntent, n, SignatureLength)
	}
	if len(segments.Extra) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after signature", ErrMalformedIntent, len(segments.Extra))
	}

	instructionsEnd := PrefixLength + len(segments.Header) + len(segments.Instructions)
	return &relayedLayout{
		sender:       segments.Sender,
		standard:     segments.Standard,
		payload:      intent[PrefixLength:instructionsEnd],
		header:       segments.Header,
		instructions: segments.Instructions,
		signature:    segments.Signature,
	}, nil
}

func (l *relayedLayout) expiry() uint64 {
	return binary.BigEndian.Uint64(l.header[:ExpiryLength])
}

func (l *relayedLayout) assignedRelayer() (common.Address, bool) {
	if len(l.header) != HeaderWithRelayerLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(l.header[ExpiryLength:]), true
}

func (l *relayedLayout) payment() (common.Address, *big.Int) {
	token := common.BytesToAddress(l.instructions[:PaymentTokenLength])
	amount := new(big.Int).SetBytes(l.instructions[PaymentTokenLength:MinInstructionsLength])
	return token, amount
}

// executions walks the length-prefixed execution table. The entries must
// partition the instruction bytes after the preamble exactly.
func (l *relayedLayout) executions() ([][]byte, error) {
	end := len(l.instructions)
	if end < InstructionsPreambleLength {
		return nil, fmt.Errorf("%w: instructions length %d leaves no execution count", ErrMalformedIntent, end)
	}

	count := int(l.instructions[MinInstructionsLength])
	cursor := InstructionsPreambleLength
	entries := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if cursor+ExecutionLengthSize > end {
			return nil, fmt.Errorf("%w: execution %d length prefix overruns instructions", ErrMalformedIntent, i)
		}
		length := int(binary.BigEndian.Uint16(l.instructions[cursor : cursor+ExecutionLengthSize]))
		cursor += ExecutionLengthSize
		if cursor+length > end {
			return nil, fmt.Errorf("%w: execution %d declares %d bytes, %d remain",
				ErrMalformedIntent, i, length, end-cursor)
		}
		entries = append(entries, l.instructions[cursor:cursor+length])
		cursor += length
	}
	if cursor != end {
		return nil, fmt.Errorf("%w: %d unconsumed instruction bytes after %d executions",
			ErrMalformedIntent, end-cursor, count)
	}
	return entries, nil
}

// Hash returns the replay-protection hash of a structurally valid intent.
func (s *RelayedExecutionStandard) Hash(intent []byte, chainID *big.Int) (common.Hash, error) {
	layout, err := parseRelayedLayout(intent)
	if err != nil {
		return common.Hash{}, err
	}
	return IntentHash(layout.payload, s.address, chainID)
}

func checkEnv(env Env) error {
	if env.Hashes == nil || env.Balances == nil {
		return errors.New("relayed-execution environment needs a hash checker and a balance oracle")
	}
	if env.Now.IsZero() {
		return errors.New("relayed-execution environment needs the current time")
	}
	return nil
}

// check runs every validation step after the structural one and returns the
// intent hash and the execution table entries.
func (s *RelayedExecutionStandard) check(ctx context.Context, layout *relayedLayout, env Env) (common.Hash, [][]byte, error) {
	hash, err := IntentHash(layout.payload, s.address, env.ChainID)
	if err != nil {
		return common.Hash{}, nil, err
	}
	signer, err := RecoverSigner(hash, layout.signature)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != layout.sender {
		return common.Hash{}, nil, fmt.Errorf("%w: signed by %s, sender is %s", ErrInvalidSignature, signer.Hex(), layout.sender.Hex())
	}

	used, err := env.Hashes.HasHash(ctx, layout.sender, hash)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to check intent hash: %w", err)
	}
	if used {
		return common.Hash{}, nil, fmt.Errorf("%w: %s", ErrIntentAlreadyUsed, hash.Hex())
	}

	// Times before 1970 precede every expiry.
	if expiry, now := layout.expiry(), env.Now.Unix(); now >= 0 && expiry < uint64(now) {
		return common.Hash{}, nil, fmt.Errorf("%w: expired at %d, now %d", ErrIntentExpired, expiry, now)
	}

	token, amount := layout.payment()
	balance, err := env.Balances.BalanceOf(ctx, layout.sender, token)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("failed to query balance of %s: %w", layout.sender.Hex(), err)
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return common.Hash{}, nil, fmt.Errorf("%w: token %s balance %v, payment %s", ErrInsufficientFunds, token.Hex(), balance, amount)
	}

	entries, err := layout.executions()
	if err != nil {
		return common.Hash{}, nil, err
	}
	return hash, entries, nil
}

// Validate implements Standard. Checks run in a fixed order and stop at the
// first failure: structure, signature, replay, expiry, funds, execution table.
// The replay check here is advisory; UnpackOperations repeats it.
func (s *RelayedExecutionStandard) Validate(ctx context.Context, intent []byte, env Env) error {
	if err := checkEnv(env); err != nil {
		return err
	}
	layout, err := parseRelayedLayout(intent)
	if err != nil {
		return err
	}
	_, _, err = s.check(ctx, layout, env)
	return err
}

// UnpackOperations implements Standard. It runs the Validate checks, then
// requires the caller to be the assigned relayer when the header names one.
// The first operation marks the intent hash as used, the second pays the
// relayer, the rest are the execution table entries in order. The marker
// must commit atomically with the others.
func (s *RelayedExecutionStandard) UnpackOperations(ctx context.Context, intent []byte, env Env) ([]Operation, error) {
	if err := checkEnv(env); err != nil {
		return nil, err
	}
	layout, err := parseRelayedLayout(intent)
	if err != nil {
		return nil, err
	}
	hash, entries, err := s.check(ctx, layout, env)
	if err != nil {
		return nil, err
	}
	if assigned, ok := layout.assignedRelayer(); ok && assigned != env.Relayer {
		return nil, fmt.Errorf("%w: assigned %s, caller %s", ErrUnauthorizedRelayer, assigned.Hex(), env.Relayer.Hex())
	}

	ops := make([]Operation, 0, 2+len(entries))
	ops = append(ops, Operation{Target: s.address, Value: new(big.Int), Data: MarkHashCallData(hash)})

	token, amount := layout.payment()
	payment, err := NewPaymentOperation(token, env.Relayer, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to build relayer payment: %w", err)
	}
	ops = append(ops, payment)

	for i, entry := range entries {
		exec, err := DecodeExecution(entry)
		if err != nil {
			return nil, fmt.Errorf("execution %d: %w", i, err)
		}
		ops = append(ops, exec)
	}
	return ops, nil
}
