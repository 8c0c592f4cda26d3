package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save("reports/attendance/job-1.csv", []byte("a,b\n")))
	path, err := store.Path("reports/attendance/job-1.csv")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a,b\n", string(data))

	require.NoError(t, store.Delete("reports/attendance/job-1.csv"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	// Deleting a missing file is not an error.
	require.NoError(t, store.Delete("reports/attendance/job-1.csv"))
}

func TestFileStoreConfinesTraversal(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "exports")
	store, err := NewFileStore(base)
	require.NoError(t, err)

	// Leading ".." segments are stripped, keeping the file under the base.
	require.NoError(t, store.Save("../../escape.csv", []byte("x")))
	path, err := store.Path("../../escape.csv")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, base+string(filepath.Separator)))
	_, err = os.Stat(filepath.Join(dir, "escape.csv"))
	require.True(t, os.IsNotExist(err))
}
