package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis connection of a RedisStore.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps one key per mark, <prefix><account>:<hash>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client. The store owns it and
// closes it on Close.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "erc7806:used:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(account common.Address, hash common.Hash) string {
	return s.prefix + account.Hex() + ":" + hash.Hex()
}

// HasHash implements Store.
func (s *RedisStore) HasHash(ctx context.Context, account common.Address, hash common.Hash) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(account, hash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Begin implements Store.
func (s *RedisStore) Begin(context.Context) (Batch, error) {
	return &redisBatch{store: s}, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

type redisBatch struct {
	store *RedisStore
	staged
}

func (b *redisBatch) MarkHash(account common.Address, hash common.Hash) {
	b.add(account, hash)
}

// Commit writes every staged mark in one MULTI/EXEC transaction. The keys
// are watched, so a concurrent commit of the same mark aborts this one.
func (b *redisBatch) Commit(ctx context.Context) error {
	if err := b.finish(); err != nil {
		return err
	}
	if len(b.marks) == 0 {
		return nil
	}

	keys := make([]string, len(b.marks))
	for i, m := range b.marks {
		keys[i] = b.store.key(m.account, m.hash)
	}

	err := b.store.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redis exists: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %d of %d marks present", ErrAlreadyMarked, n, len(keys))
		}
		cmds, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range keys {
				pipe.SetNX(ctx, key, 1, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i, cmd := range cmds {
			if set, ok := cmd.(*redis.BoolCmd); ok && !set.Val() {
				return fmt.Errorf("%w: %s", ErrAlreadyMarked, keys[i])
			}
		}
		return nil
	}, keys...)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: watched mark changed during commit", ErrAlreadyMarked)
	case errors.Is(err, ErrAlreadyMarked):
		return err
	case err != nil:
		return fmt.Errorf("redis commit of %d marks: %w", len(b.marks), err)
	}
	return nil
}

func (b *redisBatch) Discard() {
	b.done = true
	b.marks = nil
}
