// Package ledger is an in-process account state: native and ERC-20 balances,
// a small set of contract handlers, and a journal that lets a batch of calls
// be reverted as a unit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/blndgs/erc7806"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownTarget       = errors.New("call target has no code")
	ErrUnsupportedCall     = errors.New("unsupported call data")
	ErrInvalidSnapshot     = errors.New("invalid snapshot id")
)

// Handler executes calldata addressed to a registered contract. It may call
// back into the ledger to move balances.
type Handler func(ctx context.Context, l *Ledger, from common.Address, op erc7806.Operation) error

type balanceKey struct {
	token   common.Address
	account common.Address
}

type journalEntry struct {
	key     balanceKey
	prev    *big.Int
	existed bool
}

// Ledger holds balances keyed by (token, account). The zero token address is
// the native currency.
type Ledger struct {
	mu        sync.Mutex
	balances  map[balanceKey]*big.Int
	tokens    map[common.Address]struct{}
	contracts map[common.Address]Handler
	journal   []journalEntry
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:  make(map[balanceKey]*big.Int),
		tokens:    make(map[common.Address]struct{}),
		contracts: make(map[common.Address]Handler),
	}
}

// RegisterToken makes token answer ERC-20 transfer calls.
func (l *Ledger) RegisterToken(token common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[token] = struct{}{}
}

// RegisterContract routes calls with calldata at addr to h.
func (l *Ledger) RegisterContract(addr common.Address, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contracts[addr] = h
}

// SetBalance overwrites a balance. It is journaled like any other change.
func (l *Ledger) SetBalance(account, token common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(balanceKey{token: token, account: account}, new(big.Int).Set(amount))
}

// Balance returns a copy of the balance, zero if never set.
func (l *Ledger) Balance(account, token common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.get(balanceKey{token: token, account: account}))
}

// BalanceOf implements erc7806.BalanceOracle.
func (l *Ledger) BalanceOf(_ context.Context, account, token common.Address) (*big.Int, error) {
	return l.Balance(account, token), nil
}

// Transfer moves amount of token between accounts.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fromKey := balanceKey{token: token, account: from}
	balance := l.get(fromKey)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, from.Hex(), balance, token.Hex(), amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	toKey := balanceKey{token: token, account: to}
	l.set(fromKey, new(big.Int).Sub(balance, amount))
	l.set(toKey, new(big.Int).Add(l.get(toKey), amount))
	return nil
}

// Snapshot returns an id that RevertToSnapshot rolls back to.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every change made after the snapshot was taken.
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id > len(l.journal) {
		return fmt.Errorf("%w: %d, journal has %d entries", ErrInvalidSnapshot, id, len(l.journal))
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		entry := l.journal[i]
		if entry.existed {
			l.balances[entry.key] = entry.prev
		} else {
			delete(l.balances, entry.key)
		}
	}
	l.journal = l.journal[:id]
	return nil
}

// DiscardSnapshots drops the journal. Earlier snapshot ids become invalid.
func (l *Ledger) DiscardSnapshots() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = l.journal[:0]
}

// Call applies op as sent by from: the native value moves first, then the
// calldata is dispatched to a registered contract or token.
func (l *Ledger) Call(ctx context.Context, from common.Address, op erc7806.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if op.Value != nil && op.Value.Sign() > 0 {
		if err := l.Transfer(erc7806.NativeToken, from, op.Target, op.Value); err != nil {
			return err
		}
	}
	if len(op.Data) == 0 {
		return nil
	}

	l.mu.Lock()
	handler, isContract := l.contracts[op.Target]
	_, isToken := l.tokens[op.Target]
	l.mu.Unlock()

	switch {
	case isContract:
		return handler(ctx, l, from, op)
	case isToken:
		to, amount, ok := erc7806.ParseTransfer(op.Data)
		if !ok {
			return fmt.Errorf("%w: token %s only accepts transfer", ErrUnsupportedCall, op.Target.Hex())
		}
		return l.Transfer(op.Target, from, to, amount)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTarget, op.Target.Hex())
	}
}

func (l *Ledger) get(key balanceKey) *big.Int {
	if b, ok := l.balances[key]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) set(key balanceKey, value *big.Int) {
	prev, existed := l.balances[key]
	l.journal = append(l.journal, journalEntry{key: key, prev: prev, existed: existed})
	l.balances[key] = value
}
