package memory

import (
	"io"
	"testing"

	"github.com/davidvella/tmstorage/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedium_WriteAtExtendsWithZeros(t *testing.T) {
	m := New()

	n, err := m.WriteAt([]byte("abc"), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	size, err := m.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'a', 'b', 'c'}, m.Bytes())
}

func TestMedium_ReadAt(t *testing.T) {
	m := NewFromBytes([]byte("hello world"))

	tests := []struct {
		name    string
		off     int64
		size    int
		want    string
		wantN   int
		wantErr error
	}{
		{name: "inside", off: 0, size: 5, want: "hello", wantN: 5},
		{name: "crossing end", off: 6, size: 10, want: "world", wantN: 5, wantErr: io.EOF},
		{name: "past end", off: 20, size: 2, want: "", wantN: 0, wantErr: io.EOF},
		{name: "negative", off: -1, size: 2, want: "", wantN: 0, wantErr: ErrNegativeOffset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([]byte, tt.size)
			n, err := m.ReadAt(p, tt.off)
			assert.Equal(t, tt.wantN, n)
			assert.Equal(t, tt.want, string(p[:n]))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMedium_TruncateZeroesTail(t *testing.T) {
	m := NewFromBytes([]byte("abcdef"))

	require.NoError(t, m.Truncate(2))
	require.NoError(t, m.Truncate(4))
	assert.Equal(t, []byte{'a', 'b', 0, 0}, m.Bytes())
}

func TestMedium_Closed(t *testing.T) {
	m := New()
	require.NoError(t, m.Close())

	_, err := m.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = m.Size()
	assert.ErrorIs(t, err, storage.ErrClosed)

	m.Reopen()
	_, err = m.WriteAt([]byte("x"), 0)
	assert.NoError(t, err)
}
