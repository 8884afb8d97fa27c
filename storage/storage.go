// Package storage defines the byte container a storage engine lives in.
//
// Implementations live in subpackages: memory (a growable byte slice), local
// (an *os.File), mmap (a memory-mapped file) and pebble (fixed-size pages in a
// Pebble database).
package storage

import (
	"errors"
	"io"
)

// ErrClosed is returned by media after Close.
var ErrClosed = errors.New("storage: medium closed")

// Medium is a random-access, resizable byte container.
//
// WriteAt past the current size extends the medium and the gap reads as zero.
// ReadAt past the size returns the available bytes and io.EOF.
type Medium interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Size returns the current length of the medium in bytes.
	Size() (int64, error)
	// Truncate changes the size of the medium.
	Truncate(size int64) error
	// Sync makes written data durable.
	Sync() error
}

// ReadFull reads len(p) bytes at off. Bytes beyond the end of the medium are zeroed.
func ReadFull(m io.ReaderAt, p []byte, off int64) error {
	n, err := m.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	clear(p[n:])
	return nil
}
