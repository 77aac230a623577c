package checkpoint

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGetOutcome(t *testing.T) {
	store := newStore(t)

	missing, err := store.GetOutcome(1, "a.wav")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.SaveOutcome(&OutcomeRecord{
		SessionID: 1, Key: "a.wav", LocalPath: "/d/C1/a.wav", Size: 10,
		Status: StatusFailed, Attempts: 1, LastError: "HTTP 403",
	}))
	require.NoError(t, store.SaveOutcome(&OutcomeRecord{
		SessionID: 1, Key: "a.wav", LocalPath: "/d/C1/a.wav", Size: 10,
		Status: StatusUploaded, Attempts: 2,
	}))

	got, err := store.GetOutcome(1, "a.wav")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusUploaded, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestListFailedIsScopedToSession(t *testing.T) {
	store := newStore(t)

	for _, rec := range []*OutcomeRecord{
		{SessionID: 1, Key: "b.wav", Status: StatusFailed},
		{SessionID: 1, Key: "a.wav", Status: StatusFailed},
		{SessionID: 1, Key: "c.wav", Status: StatusUploaded},
		{SessionID: 2, Key: "a.wav", Status: StatusFailed},
	} {
		require.NoError(t, store.SaveOutcome(rec))
	}

	failed, err := store.ListFailed(1)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "a.wav", failed[0].Key)
	assert.Equal(t, "b.wav", failed[1].Key)

	all, err := store.ListOutcomes(1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConcurrentSaves(t *testing.T) {
	store := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.SaveOutcome(&OutcomeRecord{
				SessionID: 7, Key: string(rune('a' + i)), Status: StatusUploaded,
			}))
		}(i)
	}
	wg.Wait()

	all, err := store.ListOutcomes(7)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestClosedStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.Error(t, store.SaveOutcome(&OutcomeRecord{SessionID: 1, Key: "a"}))
	_, err = store.ListFailed(1)
	assert.Error(t, err)
}

func TestConnectionPragmas(t *testing.T) {
	store := newStore(t)

	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, busyTimeoutMs, timeout)

	var syncMode int
	require.NoError(t, store.db.QueryRow("PRAGMA synchronous").Scan(&syncMode))
	assert.Equal(t, 1, syncMode)
}
