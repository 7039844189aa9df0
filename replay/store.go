// Package replay persists the per-account intent hashes that have already
// been executed. A hash is marked as part of the same atomic batch that runs
// the intent's operations, so marks are staged in a Batch and only become
// visible on Commit.
package replay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Store answers replay queries and opens batches of new marks.
type Store interface {
	HasHash(ctx context.Context, account common.Address, hash common.Hash) (bool, error)
	Begin(ctx context.Context) (Batch, error)
	Close() error
}

// Batch stages marks until Commit. Marking a hash twice in one batch is a
// no-op. Commit writes nothing and returns ErrAlreadyMarked when any staged
// mark is already in the store.
type Batch interface {
	MarkHash(account common.Address, hash common.Hash)
	Commit(ctx context.Context) error
	Discard()
}

type mark struct {
	account common.Address
	hash    common.Hash
}

// staged collects marks for a batch, dropping duplicates.
type staged struct {
	marks []mark
	seen  map[mark]struct{}
	done  bool
}

func (s *staged) add(account common.Address, hash common.Hash) {
	if s.seen == nil {
		s.seen = make(map[mark]struct{})
	}
	m := mark{account: account, hash: hash}
	if _, ok := s.seen[m]; ok {
		return
	}
	s.seen[m] = struct{}{}
	s.marks = append(s.marks, m)
}

func (s *staged) finish() error {
	if s.done {
		return errBatchClosed
	}
	s.done = true
	return nil
}

type replayError string

func (e replayError) Error() string {
	return string(e)
}

const (
	// ErrAlreadyMarked is returned by Commit when a staged mark was written
	// by an earlier batch.
	ErrAlreadyMarked replayError = "intent hash already marked"

	errBatchClosed replayError = "replay batch already committed or discarded"
)

// Config selects and configures a store driver.
type Config struct {
	Driver string
	Redis  RedisConfig
	MySQL  MySQLConfig
}

// Open builds the store named by cfg.Driver: "memory" (default), "redis"
// or "mysql".
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	case "mysql":
		return NewMySQLStore(ctx, cfg.MySQL)
	default:
		return nil, fmt.Errorf("unsupported replay store driver %q", cfg.Driver)
	}
}
