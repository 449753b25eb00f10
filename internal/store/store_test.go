package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/mikeusry/southland-platform-sub000/internal/errors"
	"github.com/mikeusry/southland-platform-sub000/pkg/kvstore"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "visitors.db")
	store, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesSchema(t *testing.T) {
	store := newTestStore(t)

	for _, table := range []string{"kv_entries", "meta"} {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var idxCount int
	err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_%'").Scan(&idxCount)
	require.NoError(t, err)
	assert.Greater(t, idxCount, 0, "indices should be created")

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, "2", version)
}

func TestNew_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "visitors.db")
	ctx := context.Background()

	first, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "visitor:a", []byte("x"), time.Hour))
	require.NoError(t, first.Close())

	second, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "visitor:a")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestKV_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "visitor:a", []byte(`{"v":1}`), time.Hour))
	got, err := store.Get(ctx, "visitor:a")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	// Upsert replaces the value.
	require.NoError(t, store.Set(ctx, "visitor:a", []byte(`{"v":2}`), time.Hour))
	got, err = store.Get(ctx, "visitor:a")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, "visitor:a"))
	_, err = store.Get(ctx, "visitor:a")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestKV_Expiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "long", []byte("2"), 30*24*time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("3"), 0))

	now = now.Add(2 * time.Minute)

	_, err := store.Get(ctx, "short")
	assert.ErrorIs(t, err, kvstore.ErrExpired)

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	now = now.Add(365 * 24 * time.Hour)
	removed, err = store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))
}

func TestRunRetention(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := kvstore.NewMemoryStore(0)
	require.NoError(t, st.Set(ctx, "a", []byte("1"), time.Millisecond))

	var sweeps atomic.Int32
	var removed atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunRetention(ctx, st, 5*time.Millisecond, func(n int, err error) {
			assert.NoError(t, err)
			removed.Add(int32(n))
			sweeps.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return removed.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, sweeps.Load(), int32(1))
}

func TestRunRetention_DisabledInterval(t *testing.T) {
	// Returns without blocking.
	RunRetention(context.Background(), kvstore.NewMemoryStore(0), 0, nil)
}

func TestDBSizeBytes(t *testing.T) {
	store := newTestStore(t)

	size, err := store.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(context.Background()))
}

type codeErr int

func (e codeErr) Error() string { return fmt.Sprintf("sqlite code %d", int(e)) }
func (e codeErr) Code() int     { return int(e) }

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	busy := classify(fmt.Errorf("exec: %w", codeErr(5)))
	assert.ErrorIs(t, busy, perrors.ErrUnavailable)
	assert.True(t, perrors.IsRetryable(busy))

	// SQLITE_BUSY_SNAPSHOT is an extended code over SQLITE_BUSY.
	assert.ErrorIs(t, classify(codeErr(5|2<<8)), perrors.ErrUnavailable)
	assert.ErrorIs(t, classify(codeErr(6)), perrors.ErrUnavailable)

	timeout := classify(context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, perrors.ErrTimeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	constraint := classify(codeErr(19))
	assert.False(t, perrors.IsRetryable(constraint))

	plain := errors.New("disk I/O error")
	assert.Same(t, plain, classify(plain))
}

func TestKV_SetDeadlineIsRetryableTimeout(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := store.Set(ctx, "visitor:late", []byte("{}"), time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.True(t, perrors.IsRetryable(err))
}

func TestKV_SetLockedDatabaseIsUnavailable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "visitors.db")
	store, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	store.DB().SetMaxOpenConns(1)
	_, err = store.DB().ExecContext(ctx, "PRAGMA busy_timeout=0")
	require.NoError(t, err)

	other, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	conn, err := other.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	err = store.Set(ctx, "visitor:a", []byte("{}"), time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrUnavailable)
	assert.True(t, perrors.IsRetryable(err))

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "visitor:a", []byte("{}"), time.Hour))
}
