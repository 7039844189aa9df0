package erc7806

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the token identifier of the chain's native currency.
var NativeToken = common.Address{}

// BalanceOracle answers balance queries for the funds check. The zero token
// address asks for the native balance.
type BalanceOracle interface {
	BalanceOf(ctx context.Context, account, token common.Address) (*big.Int, error)
}

// HashChecker reports whether a replay marker exists for account and hash.
type HashChecker interface {
	HasHash(ctx context.Context, account common.Address, hash common.Hash) (bool, error)
}

// Env is what a standard needs from its host to judge an intent.
type Env struct {
	Now      time.Time
	ChainID  *big.Int
	Balances BalanceOracle
	Hashes   HashChecker
	// Relayer is the identity of the caller submitting the intent. It receives
	// the relayer payment and is checked against an assigned relayer.
	Relayer common.Address
}

// Standard is a pluggable interpretation of an intent's header and
// instructions, registered under its own address.
type Standard interface {
	Address() common.Address
	// Validate returns nil when the intent is approved, otherwise the first
	// failing check's error.
	Validate(ctx context.Context, intent []byte, env Env) error
	// UnpackOperations projects an approved intent into the ordered
	// operations an account executes as one atomic batch.
	UnpackOperations(ctx context.Context, intent []byte, env Env) ([]Operation, error)
}

// Registry dispatches intents to the standard named in their standard field.
type Registry struct {
	mu        sync.RWMutex
	standards map[common.Address]Standard
}

// NewRegistry returns a registry holding the given standards.
func NewRegistry(standards ...Standard) *Registry {
	r := &Registry{standards: make(map[common.Address]Standard, len(standards))}
	for _, s := range standards {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a standard.
func (r *Registry) Register(s Standard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standards[s.Address()] = s
}

// Lookup returns the standard registered at addr.
func (r *Registry) Lookup(addr common.Address) (Standard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.standards[addr]
	return s, ok
}

// StandardFor resolves the standard an intent names.
func (r *Registry) StandardFor(intent []byte) (Standard, error) {
	_, standard, err := GetSenderAndStandard(intent)
	if err != nil {
		return nil, err
	}
	s, ok := r.Lookup(standard)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStandard, standard.Hex())
	}
	return s, nil
}

// Validate dispatches to the intent's standard.
func (r *Registry) Validate(ctx context.Context, intent []byte, env Env) error {
	s, err := r.StandardFor(intent)
	if err != nil {
		return err
	}
	return s.Validate(ctx, intent, env)
}

// UnpackOperations dispatches to the intent's standard.
func (r *Registry) UnpackOperations(ctx context.Context, intent []byte, env Env) ([]Operation, error) {
	s, err := r.StandardFor(intent)
	if err != nil {
		return nil, err
	}
	return s.UnpackOperations(ctx, intent, env)
}
