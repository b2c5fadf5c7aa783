package credential

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(KindUserToken)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(KindUserToken, []byte("one")))
	require.NoError(t, store.Put(KindUserToken, []byte("two")))

	got, err := store.Get(KindUserToken)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	require.NoError(t, store.Delete(KindUserToken))
	_, err = store.Get(KindUserToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(KindDeviceCode, []byte(`"D1"`)))
	require.NoError(t, store.Close())

	store, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(KindDeviceCode)
	require.NoError(t, err)
	assert.Equal(t, `"D1"`, string(got))
}
