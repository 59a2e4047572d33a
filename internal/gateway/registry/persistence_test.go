package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "revocations.json"))
	entries, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_AppendLoadRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "revocations.json"))

	first := revocation("tok-1", time.Now().UTC(), time.Hour)
	first.Reason = "operator credential revoked"
	require.NoError(t, store.Append(first))
	require.NoError(t, store.Append(revocation("tok-2", time.Now().UTC(), time.Hour)))

	entries, err := store.Load()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "tok-1", entries[0].TokenID)
	assert.Equal(t, "operator credential revoked", entries[0].Reason)
	assert.Equal(t, "tok-2", entries[1].TokenID)
}

func TestFileStore_LoadSkipsExpired(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "revocations.json"))

	require.NoError(t, store.Append(revocation("tok-live", time.Now().UTC(), time.Hour)))
	require.NoError(t, store.Append(revocation("tok-dead", time.Now().UTC(), -time.Second)))

	entries, err := store.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tok-live", entries[0].TokenID)
}

func TestFileStore_CorruptFileSurfacesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "revocations.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewFileStore(path)
	_, err := store.Load()
	assert.Error(t, err)

	err = store.Append(revocation("tok-1", time.Now(), time.Hour))
	assert.Error(t, err)
}

// Session and operator revocations append one entry per token from
// separate goroutines; none may be lost.
func TestFileStore_ConcurrentAppendsLoseNothing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "revocations.json"))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Append(revocation(fmt.Sprintf("tok-%d", i), time.Now().UTC(), time.Hour))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "revocations.json"))
	require.NoError(t, store.Append(revocation("tok-1", time.Now(), time.Hour)))

	names, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "revocations.json", names[0].Name())
}
