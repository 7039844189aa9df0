package replay

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps marks in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[common.Address]map[common.Hash]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[common.Address]map[common.Hash]struct{})}
}

// HasHash implements Store.
func (s *MemoryStore) HasHash(_ context.Context, account common.Address, hash common.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.marks[account][hash]
	return ok, nil
}

// Begin implements Store.
func (s *MemoryStore) Begin(context.Context) (Batch, error) {
	return &memoryBatch{store: s}, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

type memoryBatch struct {
	store *MemoryStore
	staged
}

func (b *memoryBatch) MarkHash(account common.Address, hash common.Hash) {
	b.add(account, hash)
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if err := b.finish(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, m := range b.marks {
		if _, ok := b.store.marks[m.account][m.hash]; ok {
			return fmt.Errorf("%w: %s for %s", ErrAlreadyMarked, m.hash.Hex(), m.account.Hex())
		}
	}
	for _, m := range b.marks {
		hashes := b.store.marks[m.account]
		if hashes == nil {
			hashes = make(map[common.Hash]struct{})
			b.store.marks[m.account] = hashes
		}
		hashes[m.hash] = struct{}{}
	}
	return nil
}

func (b *memoryBatch) Discard() {
	b.done = true
	b.marks = nil
}
