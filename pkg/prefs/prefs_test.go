package prefs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookledger "github.com/bookledger/bookledger"
)

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "session.toml")
	store, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Empty())

	cached := bookledger.CachedSession{CachedProvider: "keystore", ConnectorCache: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"}
	require.NoError(t, store.Save(cached))

	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, cached, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[session]")
	assert.Contains(t, string(data), "cached_provider")
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	store, err := New(filepath.Join(t.TempDir(), "session.toml"))
	require.NoError(t, err)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Save(bookledger.CachedSession{CachedProvider: "privatekey"}))
	require.NoError(t, store.Clear())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Empty())
	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "session.toml"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(bookledger.CachedSession{CachedProvider: "privatekey"}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), entry.Name())
	}
	assert.Len(t, entries, 1)
}

func TestStore_LoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed", content: "version = [", wantErr: "decode prefs file"},
		{name: "future version", content: "version = 9\n", wantErr: "unsupported prefs version 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "session.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			store, err := New(path)
			require.NoError(t, err)
			_, err = store.Load()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(defaultDir, defaultFile), filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path)))
}
