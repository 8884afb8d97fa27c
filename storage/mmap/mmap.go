// Package mmap provides a storage.Medium whose reads and writes go through a
// memory mapping of a file.
//
// The file is grown in chunks ahead of the logical size so that appends do not
// remap on every write. Sync and Close cut the file back to the logical size.
package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/davidvella/tmstorage/monitoring"
	"github.com/davidvella/tmstorage/storage"
	mmapgo "github.com/edsrzf/mmap-go"
)

const growChunk = 1 << 20

var logger = monitoring.NewLogger("mmap")

var ErrNegativeOffset = errors.New("mmap: negative offset")

// File is a memory-mapped storage.Medium.
type File struct {
	file   *os.File
	mapped mmapgo.MMap
	size   int64
	cap    int64
}

// Open maps the file at path, creating it if needed.
func Open(path string) (*File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	f := &File{file: file, size: info.Size(), cap: info.Size()}
	if err := f.remap(); err != nil {
		file.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) remap() error {
	if f.mapped != nil {
		if err := f.mapped.Unmap(); err != nil {
			return fmt.Errorf("failed to unmap: %w", err)
		}
		f.mapped = nil
	}
	if f.cap == 0 {
		return nil
	}

	mapped, err := mmapgo.Map(f.file, mmapgo.RDWR, 0)
	if err != nil {
		logger.Error("failed to map", "err", err, "filename", f.file.Name())
		return fmt.Errorf("failed to map file: %w", err)
	}
	f.mapped = mapped
	return nil
}

// reserve makes sure at least size bytes are mapped.
func (f *File) reserve(size int64) error {
	if size <= f.cap {
		return nil
	}

	newCap := f.cap + growChunk
	if newCap < size {
		newCap = size
	}
	if f.mapped != nil {
		if err := f.mapped.Flush(); err != nil {
			return fmt.Errorf("failed to flush mapping: %w", err)
		}
	}
	if err := f.file.Truncate(newCap); err != nil {
		return fmt.Errorf("failed to grow file: %w", err)
	}
	f.cap = newCap
	return f.remap()
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.file == nil {
		return 0, storage.ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= f.size {
		return 0, io.EOF
	}

	n := copy(p, f.mapped[off:f.size])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.file == nil {
		return 0, storage.ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	end := off + int64(len(p))
	if err := f.reserve(end); err != nil {
		return 0, err
	}
	if end > f.size {
		f.size = end
	}
	return copy(f.mapped[off:end], p), nil
}

func (f *File) Size() (int64, error) {
	if f.file == nil {
		return 0, storage.ErrClosed
	}
	return f.size, nil
}

func (f *File) Truncate(size int64) error {
	if f.file == nil {
		return storage.ErrClosed
	}
	if size < 0 {
		return ErrNegativeOffset
	}

	if err := f.reserve(size); err != nil {
		return err
	}
	if size < f.size {
		clear(f.mapped[size:f.size])
	}
	f.size = size
	return nil
}

// Sync flushes the mapping and cuts the file back to the logical size.
func (f *File) Sync() error {
	if f.file == nil {
		return storage.ErrClosed
	}
	if f.mapped != nil {
		if err := f.mapped.Flush(); err != nil {
			return fmt.Errorf("failed to flush mapping: %w", err)
		}
	}
	if f.cap != f.size {
		if f.mapped != nil {
			if err := f.mapped.Unmap(); err != nil {
				return fmt.Errorf("failed to unmap: %w", err)
			}
			f.mapped = nil
		}
		if err := f.file.Truncate(f.size); err != nil {
			return fmt.Errorf("failed to truncate file: %w", err)
		}
		f.cap = f.size
		if err := f.remap(); err != nil {
			return err
		}
	}
	return f.file.Sync()
}

func (f *File) Close() error {
	if f.file == nil {
		return storage.ErrClosed
	}
	syncErr := f.Sync()

	var unmapErr error
	if f.mapped != nil {
		unmapErr = f.mapped.Unmap()
		f.mapped = nil
	}
	closeErr := f.file.Close()
	f.file = nil

	return errors.Join(syncErr, unmapErr, closeErr)
}

var _ storage.Medium = (*File)(nil)
