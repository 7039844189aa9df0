// Package executor runs the operations of an approved intent as one atomic
// batch: every call succeeds and the replay marks commit, or nothing changes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blndgs/erc7806"
	"github.com/blndgs/erc7806/internal/logger"
	"github.com/blndgs/erc7806/replay"
	"github.com/ethereum/go-ethereum/common"
)

// Backend applies calls to account state and can roll them back.
type Backend interface {
	Snapshot() int
	RevertToSnapshot(id int) error
	DiscardSnapshots()
	Call(ctx context.Context, from common.Address, op erc7806.Operation) error
}

// Executor serialises batches over a single backend, since a snapshot
// covers every change made after it.
type Executor struct {
	mu        sync.Mutex
	backend   Backend
	store     replay.Store
	standards *erc7806.Registry
	log       *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

// New returns an executor. markHash self-calls addressed to a standard in
// standards are staged in the replay store instead of reaching the backend.
func New(backend Backend, store replay.Store, standards *erc7806.Registry, opts ...Option) *Executor {
	e := &Executor{
		backend:   backend,
		store:     store,
		standards: standards,
		log:       logger.Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs ops for sender in order. A markHash op whose hash the store
// already holds fails the batch with erc7806.ErrIntentAlreadyUsed before any
// call runs. On failure the backend is reverted, no replay mark is written,
// and the returned error wraps erc7806.ErrExecutionFailed with the failing
// operation's index.
func (e *Executor) Execute(ctx context.Context, sender common.Address, ops []erc7806.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	marks := make(map[int]common.Hash)
	for i, op := range ops {
		hash, ok := e.markedHash(op)
		if !ok {
			continue
		}
		used, err := e.store.HasHash(ctx, sender, hash)
		if err != nil {
			return fmt.Errorf("check replay mark: %w", err)
		}
		if used {
			return fmt.Errorf("%w: %s", erc7806.ErrIntentAlreadyUsed, hash.Hex())
		}
		marks[i] = hash
	}

	batch, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replay batch: %w", err)
	}
	snapshot := e.backend.Snapshot()

	fail := func(cause error) error {
		batch.Discard()
		if err := e.backend.RevertToSnapshot(snapshot); err != nil {
			e.log.Error("revert failed", "sender", sender.Hex(), "snapshot", snapshot, "err", err)
		}
		return cause
	}

	for i, op := range ops {
		if hash, ok := marks[i]; ok {
			batch.MarkHash(sender, hash)
			continue
		}
		if err := e.backend.Call(ctx, sender, op); err != nil {
			e.log.Debug("operation failed", "sender", sender.Hex(), "index", i, "target", op.Target.Hex(), "err", err)
			return fail(fmt.Errorf("%w: operation %d: %w", erc7806.ErrExecutionFailed, i, err))
		}
	}

	if err := batch.Commit(ctx); err != nil {
		if errors.Is(err, replay.ErrAlreadyMarked) {
			return fail(fmt.Errorf("%w: %w", erc7806.ErrIntentAlreadyUsed, err))
		}
		return fail(fmt.Errorf("%w: commit replay marks: %w", erc7806.ErrExecutionFailed, err))
	}
	e.backend.DiscardSnapshots()
	return nil
}

func (e *Executor) markedHash(op erc7806.Operation) (common.Hash, bool) {
	hash, ok := erc7806.ParseMarkHash(op)
	if !ok || e.standards == nil {
		return common.Hash{}, false
	}
	if _, known := e.standards.Lookup(op.Target); !known {
		return common.Hash{}, false
	}
	return hash, true
}
