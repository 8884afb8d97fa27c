// Package local provides a storage.Medium backed by a file on the local filesystem.
package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/davidvella/tmstorage/storage"
)

// File implements storage.Medium on top of an *os.File.
type File struct {
	file *os.File
	path string
}

// Open opens or creates the file at path.
func Open(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return &File{file: file, path: path}, nil
}

// Path returns the file name the medium was opened with.
func (f *File) Path() string {
	return f.path
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.file == nil {
		return 0, storage.ErrClosed
	}
	return f.file.ReadAt(p, off)
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.file == nil {
		return 0, storage.ErrClosed
	}
	return f.file.WriteAt(p, off)
}

func (f *File) Size() (int64, error) {
	if f.file == nil {
		return 0, storage.ErrClosed
	}
	info, err := f.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat file %s: %w", f.path, err)
	}
	return info.Size(), nil
}

func (f *File) Truncate(size int64) error {
	if f.file == nil {
		return storage.ErrClosed
	}
	return f.file.Truncate(size)
}

func (f *File) Sync() error {
	if f.file == nil {
		return storage.ErrClosed
	}
	return f.file.Sync()
}

func (f *File) Close() error {
	if f.file == nil {
		return storage.ErrClosed
	}
	err := f.file.Close()
	f.file = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to close file %s: %w", f.path, err)
	}
	return nil
}

var (
	_ storage.Medium = (*File)(nil)
	_ io.ReaderAt    = (*File)(nil)
)
