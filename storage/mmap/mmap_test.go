package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidvella/tmstorage/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapped.tms")
	f, err := Open(path)
	require.NoError(t, err)
	return f, path
}

func TestFile_WriteGrowsMapping(t *testing.T) {
	f, path := openTemp(t)

	_, err := f.WriteAt([]byte("abc"), 10)
	require.NoError(t, err)

	size, err := f.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(13), size)

	got := make([]byte, 13)
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, append(make([]byte, 10), 'a', 'b', 'c'), got)

	require.NoError(t, f.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(13), info.Size())
}

func TestFile_TruncateAndReopen(t *testing.T) {
	f, path := openTemp(t)

	_, err := f.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(5))
	require.NoError(t, f.Truncate(8))
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	f, err = Open(path)
	require.NoError(t, err)
	defer f.Close()

	got := make([]byte, 10)
	n, err := f.ReadAt(got, 0)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{'h', 'e', 'l', 'l', 'o', 0, 0, 0}, got[:n])
}

func TestFile_Closed(t *testing.T) {
	f, _ := openTemp(t)
	require.NoError(t, f.Close())

	_, err := f.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, f.Close(), storage.ErrClosed)
}
