package tmstorage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/davidvella/tmstorage/storage"
	"github.com/davidvella/tmstorage/storage/local"
	"github.com/davidvella/tmstorage/storage/mmap"
	"github.com/davidvella/tmstorage/storage/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opener returns a fresh pair of media over the same backing store on each call.
type opener func(t *testing.T) (storage.Medium, storage.Medium)

func TestStorage_Media(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) opener
	}{
		{
			name: "pebble",
			setup: func(t *testing.T) opener {
				fs := vfs.NewMem()
				open := func(t *testing.T, path string) storage.Medium {
					m, err := pebble.NewStorage(pebble.StorageOptions{
						Path:         path,
						PageSize:     4096,
						CacheSize:    1 << 20,
						MaxOpenFiles: 16,
						FS:           fs,
					})
					require.NoError(t, err)
					return m
				}
				return func(t *testing.T) (storage.Medium, storage.Medium) {
					return open(t, "data.db"), open(t, "log.db")
				}
			},
		},
		{
			name: "mmap",
			setup: func(t *testing.T) opener {
				dir := t.TempDir()
				return func(t *testing.T) (storage.Medium, storage.Medium) {
					m, err := mmap.Open(filepath.Join(dir, "data.tms"))
					require.NoError(t, err)
					l, err := mmap.Open(filepath.Join(dir, "data.log"))
					require.NoError(t, err)
					return m, l
				}
			},
		},
		{
			name: "file",
			setup: func(t *testing.T) opener {
				dir := t.TempDir()
				return func(t *testing.T) (storage.Medium, storage.Medium) {
					m, err := local.Open(filepath.Join(dir, "data.tms"))
					require.NoError(t, err)
					l, err := local.Open(filepath.Join(dir, "data.log"))
					require.NoError(t, err)
					return m, l
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open := tt.setup(t)
			id := NewStreamID()

			m, log := open(t)
			s, err := Open(m, log)
			require.NoError(t, err)
			st, err := s.CreateStream(id, 1)
			require.NoError(t, err)
			_, err = st.Write(fill(5, 10000))
			require.NoError(t, err)

			require.NoError(t, s.StartTransaction())
			require.NoError(t, st.SetLength(100))
			require.NoError(t, s.RollbackTransaction())
			require.NoError(t, s.Close())

			m, log = open(t)
			s, err = Open(m, log)
			require.NoError(t, err)
			st, err = s.OpenStream(id)
			require.NoError(t, err)
			assert.Equal(t, fill(5, 10000), readAll(t, st))
			requireTiling(t, s)
			require.NoError(t, s.Close())
		})
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.tms")
	id := NewStreamID()

	s, err := OpenFile(path, filepath.Join(dir, "data.log"))
	require.NoError(t, err)
	st, err := s.CreateStream(id, 0)
	require.NoError(t, err)
	_, err = st.Write([]byte("on disk"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// The log is optional.
	s, err = OpenFile(path, "")
	require.NoError(t, err)
	st, err = s.OpenStream(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("on disk"), readAll(t, st))
	require.NoError(t, s.Close())

	bad := filepath.Join(dir, "bad.tms")
	require.NoError(t, os.WriteFile(bad, []byte("not a storage"), 0o600))
	_, err = OpenFile(bad, "")
	assert.ErrorIs(t, err, ErrUnableToOpenStorage)
	assert.ErrorIs(t, err, ErrStorageCorrupt)
}
