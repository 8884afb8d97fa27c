// Package memory provides an in-memory storage.Medium.
package memory

import (
	"errors"
	"io"
	"sync"

	"github.com/davidvella/tmstorage/storage"
)

var ErrNegativeOffset = errors.New("memory: negative offset")

// Medium keeps the whole medium in a byte slice.
type Medium struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// New returns an empty medium.
func New() *Medium {
	return &Medium{}
}

// NewFromBytes returns a medium holding a copy of b.
func NewFromBytes(b []byte) *Medium {
	return &Medium{data: append([]byte(nil), b...)}
}

func (m *Medium) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, storage.ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *Medium) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, storage.ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		m.grow(end)
	}
	return copy(m.data[off:], p), nil
}

func (m *Medium) grow(size int64) {
	if size <= int64(cap(m.data)) {
		m.data = m.data[:size]
		return
	}
	data := make([]byte, size, size+size/4)
	copy(data, m.data)
	m.data = data
}

func (m *Medium) Size() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, storage.ErrClosed
	}
	return int64(len(m.data)), nil
}

func (m *Medium) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return storage.ErrClosed
	}
	if size < 0 {
		return ErrNegativeOffset
	}

	if size > int64(len(m.data)) {
		m.grow(size)
		return nil
	}
	// Zero the cut tail so a later grow does not resurrect it.
	clear(m.data[size:])
	m.data = m.data[:size]
	return nil
}

func (m *Medium) Sync() error {
	return nil
}

// Close marks the medium closed. The contents stay available through Bytes.
func (m *Medium) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Reopen clears the closed flag so the same bytes can back a new storage.
func (m *Medium) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

// Bytes returns a copy of the current contents.
func (m *Medium) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

var _ storage.Medium = (*Medium)(nil)
