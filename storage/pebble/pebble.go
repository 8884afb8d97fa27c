// Package pebble provides a storage.Medium that keeps its bytes in fixed-size
// pages inside a Pebble database, so a storage can live next to other state
// in the same KV store.
package pebble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/davidvella/tmstorage/storage"
)

const defaultPageSize = 4096

var (
	ErrNegativeOffset  = errors.New("pebble: negative offset")
	ErrInvalidPageSize = errors.New("pebble: page size must be positive")
	ErrCorruptSize     = errors.New("pebble: corrupt size record")
)

// StateNamespace separates the medium's keys from anything else in the database.
type StateNamespace string

const (
	PageNamespace     StateNamespace = "page"
	MetadataNamespace StateNamespace = "metadata"
)

// StorageOptions configures the medium.
type StorageOptions struct {
	Path         string
	PageSize     int
	CacheSize    int64
	MaxOpenFiles int
	// FS overrides the filesystem; vfs.NewMem() keeps the database in memory.
	FS vfs.FS
	// Sync makes every write durable before it returns.
	Sync bool
}

// Medium implements storage.Medium on a Pebble database.
type Medium struct {
	db       *pebble.DB
	pageSize int64
	size     int64
	ownsDB   bool
	writeOpt *pebble.WriteOptions
}

// NewStorage opens the database at opts.Path and loads the medium stored in it.
func NewStorage(opts StorageOptions) (*Medium, error) {
	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: opts.MaxOpenFiles,
	}
	if opts.FS != nil {
		pebbleOpts.FS = opts.FS
	} else if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := pebble.Open(opts.Path, pebbleOpts)
	if err != nil {
		return nil, err
	}

	m, err := New(db, opts.PageSize, opts.Sync)
	if err != nil {
		db.Close()
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// New wraps an already open database. Close will not close db.
func New(db *pebble.DB, pageSize int, sync bool) (*Medium, error) {
	if pageSize < 0 {
		return nil, ErrInvalidPageSize
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	m := &Medium{
		db:       db,
		pageSize: int64(pageSize),
		writeOpt: pebble.NoSync,
	}
	if sync {
		m.writeOpt = pebble.Sync
	}

	size, err := m.loadSize()
	if err != nil {
		return nil, err
	}
	m.size = size
	return m, nil
}

func pageKey(index int64) []byte {
	key := make([]byte, len(PageNamespace)+1+8)
	n := copy(key, PageNamespace)
	key[n] = 0
	binary.BigEndian.PutUint64(key[n+1:], uint64(index))
	return key
}

func sizeKey() []byte {
	return append([]byte(MetadataNamespace), 0, 's', 'i', 'z', 'e')
}

func (m *Medium) loadSize() (int64, error) {
	value, closer, err := m.db.Get(sizeKey())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load size: %w", err)
	}
	defer closer.Close()

	if len(value) != 8 {
		return 0, ErrCorruptSize
	}
	return int64(binary.LittleEndian.Uint64(value)), nil
}

// readPage copies page index into dst, zero filling pages that were never written.
func (m *Medium) readPage(index int64, dst []byte) error {
	value, closer, err := m.db.Get(pageKey(index))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			clear(dst)
			return nil
		}
		return fmt.Errorf("failed to read page %d: %w", index, err)
	}
	defer closer.Close()

	n := copy(dst, value)
	clear(dst[n:])
	return nil
}

func (m *Medium) ReadAt(p []byte, off int64) (int, error) {
	if m.db == nil {
		return 0, storage.ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= m.size {
		return 0, io.EOF
	}

	want := len(p)
	if avail := m.size - off; int64(want) > avail {
		want = int(avail)
	}

	page := make([]byte, m.pageSize)
	read := 0
	for read < want {
		pos := off + int64(read)
		index := pos / m.pageSize
		if err := m.readPage(index, page); err != nil {
			return read, err
		}
		read += copy(p[read:want], page[pos-index*m.pageSize:])
	}

	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

func (m *Medium) WriteAt(p []byte, off int64) (int, error) {
	if m.db == nil {
		return 0, storage.ErrClosed
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	batch := m.db.NewBatch()
	defer batch.Close()

	written := 0
	for written < len(p) {
		pos := off + int64(written)
		index := pos / m.pageSize
		page := make([]byte, m.pageSize)
		if err := m.readPage(index, page); err != nil {
			return 0, err
		}
		written += copy(page[pos-index*m.pageSize:], p[written:])
		if err := batch.Set(pageKey(index), page, nil); err != nil {
			return 0, err
		}
	}

	newSize := m.size
	if end := off + int64(len(p)); end > newSize {
		newSize = end
		if err := m.setSize(batch, newSize); err != nil {
			return 0, err
		}
	}

	if err := batch.Commit(m.writeOpt); err != nil {
		return 0, fmt.Errorf("failed to commit pages: %w", err)
	}
	m.size = newSize
	return written, nil
}

func (m *Medium) setSize(batch *pebble.Batch, size int64) error {
	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], uint64(size))
	return batch.Set(sizeKey(), value[:], nil)
}

func (m *Medium) Size() (int64, error) {
	if m.db == nil {
		return 0, storage.ErrClosed
	}
	return m.size, nil
}

// Truncate drops whole pages past size and zeroes the cut part of the last page.
func (m *Medium) Truncate(size int64) error {
	if m.db == nil {
		return storage.ErrClosed
	}
	if size < 0 {
		return ErrNegativeOffset
	}

	batch := m.db.NewBatch()
	defer batch.Close()

	if size < m.size {
		lastPage := (m.size - 1) / m.pageSize
		firstDropped := (size + m.pageSize - 1) / m.pageSize
		if firstDropped <= lastPage {
			if err := batch.DeleteRange(pageKey(firstDropped), pageKey(lastPage+1), nil); err != nil {
				return err
			}
		}
		if rem := size % m.pageSize; rem != 0 {
			index := size / m.pageSize
			page := make([]byte, m.pageSize)
			if err := m.readPage(index, page); err != nil {
				return err
			}
			clear(page[rem:])
			if err := batch.Set(pageKey(index), page, nil); err != nil {
				return err
			}
		}
	}

	if err := m.setSize(batch, size); err != nil {
		return err
	}
	if err := batch.Commit(m.writeOpt); err != nil {
		return fmt.Errorf("failed to commit truncate: %w", err)
	}
	m.size = size
	return nil
}

func (m *Medium) Sync() error {
	if m.db == nil {
		return storage.ErrClosed
	}
	return m.db.Flush()
}

func (m *Medium) Close() error {
	if m.db == nil {
		return storage.ErrClosed
	}
	db := m.db
	m.db = nil
	if m.ownsDB {
		return db.Close()
	}
	return nil
}

var _ storage.Medium = (*Medium)(nil)
