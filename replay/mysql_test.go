package replay

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockMySQLStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS intent_used_hashes")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewMySQLStoreWithDB(context.Background(), db)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

func TestMySQLStore_HasHash(t *testing.T) {
	store, mock := newMockMySQLStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(selectUsedHash)).
		WithArgs(alice.Bytes(), hashA.Bytes()).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	used, err := store.HasHash(ctx, alice, hashA)
	require.NoError(t, err)
	require.True(t, used)

	mock.ExpectQuery(regexp.QuoteMeta(selectUsedHash)).
		WithArgs(bob.Bytes(), hashA.Bytes()).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	used, err = store.HasHash(ctx, bob, hashA)
	require.NoError(t, err)
	require.False(t, used)

	mock.ExpectQuery(regexp.QuoteMeta(selectUsedHash)).
		WillReturnError(errors.New("connection reset"))
	_, err = store.HasHash(ctx, alice, hashB)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitInsertsInOneTransaction(t *testing.T) {
	store, mock := newMockMySQLStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertUsedHash)).
		WithArgs(alice.Bytes(), hashA.Bytes(), int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertUsedHash)).
		WithArgs(bob.Bytes(), hashB.Bytes(), int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	batch.MarkHash(alice, hashA)
	batch.MarkHash(alice, hashA)
	batch.MarkHash(bob, hashB)
	require.NoError(t, batch.Commit(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitRollsBackOnError(t *testing.T) {
	store, mock := newMockMySQLStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertUsedHash)).
		WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	batch.MarkHash(alice, hashA)
	require.Error(t, batch.Commit(ctx))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitRejectsExistingMark(t *testing.T) {
	store, mock := newMockMySQLStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertUsedHash)).
		WithArgs(alice.Bytes(), hashA.Bytes(), int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertUsedHash)).
		WithArgs(bob.Bytes(), hashB.Bytes(), int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	batch.MarkHash(alice, hashA)
	batch.MarkHash(bob, hashB)
	require.ErrorIs(t, batch.Commit(ctx), ErrAlreadyMarked)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_EmptyAndDiscardedBatches(t *testing.T) {
	store, mock := newMockMySQLStore(t)
	ctx := context.Background()

	empty, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, empty.Commit(ctx))

	discarded, err := store.Begin(ctx)
	require.NoError(t, err)
	discarded.MarkHash(alice, hashA)
	discarded.Discard()
	require.ErrorIs(t, discarded.Commit(ctx), errBatchClosed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMySQLStore_RequiresDSN(t *testing.T) {
	_, err := NewMySQLStore(context.Background(), MySQLConfig{DSN: "  "})
	require.Error(t, err)
}
