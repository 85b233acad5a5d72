package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-qbmidi/store"
)

func openPair(t *testing.T) (*Store, *Store) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "qbmidi.db")

	a, err := New(ctx, path, WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	b, err := New(ctx, path, WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return a, b
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "x.db", dsn("x.db", nil))
	assert.Equal(t,
		"x.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		dsn("x.db", [][2]string{{"journal_mode", "WAL"}, {"busy_timeout", "5000"}}))
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	a, b := openPair(t)

	_, err := a.Get(ctx, "lock")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, a.Set(ctx, "lock", []byte("v1")))
	require.NoError(t, a.Set(ctx, "lock", []byte("v2")))

	got, err := b.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, b.Delete(ctx, "lock"))
	_, err = a.Get(ctx, "lock")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, a.Set(ctx, "lock", nil))
	got, err = a.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, b := openPair(t)

	require.NoError(t, a.Set(ctx, "before", []byte("old")))

	changes, err := b.Watch(ctx)
	require.NoError(t, err)

	next := func() store.Change {
		t.Helper()
		select {
		case c := <-changes:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("no change received")
		}
		return store.Change{}
	}

	require.NoError(t, b.Set(ctx, "own", []byte("skip")))
	require.NoError(t, a.Set(ctx, "roster", []byte("v1")))
	first := next()

	require.NoError(t, a.Delete(ctx, "roster"))
	got := []store.Change{first, next()}

	assert.Equal(t, "roster", got[0].Key)
	assert.Equal(t, []byte("v1"), got[0].Value)
	assert.False(t, got[0].Deleted)
	assert.Equal(t, store.Change{Key: "roster", Deleted: true}, got[1])
}
