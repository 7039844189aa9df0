package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig describes the MySQL connection of a MySQLStore.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

const createUsedHashesTable = `CREATE TABLE IF NOT EXISTS intent_used_hashes (
	account BINARY(20) NOT NULL,
	intent_hash BINARY(32) NOT NULL,
	marked_at BIGINT NOT NULL,
	PRIMARY KEY (account, intent_hash)
)`

const (
	selectUsedHash = `SELECT 1 FROM intent_used_hashes WHERE account = ? AND intent_hash = ? LIMIT 1`
	insertUsedHash = `INSERT IGNORE INTO intent_used_hashes (account, intent_hash, marked_at) VALUES (?, ?, ?)`
)

// MySQLStore keeps marks in the intent_used_hashes table.
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore opens the database, tunes the pool and creates the table.
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewMySQLStoreWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreWithDB uses an already opened database. The store owns it and
// closes it on Close.
func NewMySQLStoreWithDB(ctx context.Context, db *sql.DB) (*MySQLStore, error) {
	if _, err := db.ExecContext(ctx, createUsedHashesTable); err != nil {
		return nil, fmt.Errorf("failed to create intent_used_hashes table: %w", err)
	}
	return &MySQLStore{db: db, now: time.Now}, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("mysql DSN cannot be empty")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach mysql: %w", err)
	}
	return db, nil
}

// HasHash implements Store.
func (s *MySQLStore) HasHash(ctx context.Context, account common.Address, hash common.Hash) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, selectUsedHash, account.Bytes(), hash.Bytes()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query intent hash: %w", err)
	}
	return true, nil
}

// Begin implements Store.
func (s *MySQLStore) Begin(context.Context) (Batch, error) {
	return &mysqlBatch{store: s}, nil
}

// Close implements Store.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type mysqlBatch struct {
	store *MySQLStore
	staged
}

func (b *mysqlBatch) MarkHash(account common.Address, hash common.Hash) {
	b.add(account, hash)
}

// Commit inserts every staged mark inside one SQL transaction.
func (b *mysqlBatch) Commit(ctx context.Context) error {
	if err := b.finish(); err != nil {
		return err
	}
	if len(b.marks) == 0 {
		return nil
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replay transaction: %w", err)
	}
	markedAt := b.store.now().Unix()
	for _, m := range b.marks {
		res, err := tx.ExecContext(ctx, insertUsedHash, m.account.Bytes(), m.hash.Bytes(), markedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert intent hash %s: %w", m.hash.Hex(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert intent hash %s: %w", m.hash.Hex(), err)
		}
		if n == 0 {
			tx.Rollback()
			return fmt.Errorf("%w: %s for %s", ErrAlreadyMarked, m.hash.Hex(), m.account.Hex())
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replay transaction: %w", err)
	}
	return nil
}

func (b *mysqlBatch) Discard() {
	b.done = true
	b.marks = nil
}
