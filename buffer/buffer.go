// Package buffer implements a write-back block cache in front of a
// storage.Medium.
//
// While enabled, writes land in block-aligned in-memory blocks and reads merge
// those blocks with the underlying medium. Flush writes every block in
// ascending order; Discard drops them. A storage enables the buffer for the
// duration of a transaction, flushes it on commit and discards it on rollback.
package buffer

import (
	"errors"
	"fmt"
	"io"

	"github.com/davidvella/tmstorage/storage"
	"github.com/google/btree"
)

// MinBlockSize is the smallest supported block size.
const MinBlockSize = 512

var (
	ErrBufferedData     = errors.New("buffer: can't disable buffering when data is already buffered")
	ErrInvalidBlockSize = errors.New("buffer: block size cannot be less than 512 bytes")
	ErrNegativeOffset   = errors.New("buffer: negative offset")
)

type block struct {
	position int64
	data     []byte
}

func (b *block) end() int64 {
	return b.position + int64(len(b.data))
}

// Medium is a storage.Medium that can defer writes to its base medium.
type Medium struct {
	base      storage.Medium
	blockSize int64
	blocks    *btree.BTreeG[*block]
	enabled   bool
	// length is the logical size while enabled.
	length int64
	// visible is the prefix of base not cut off by a buffered Truncate.
	visible   int64
	truncated bool
}

// New wraps base. Buffering starts disabled.
func New(base storage.Medium, blockSize int) (*Medium, error) {
	if blockSize < MinBlockSize {
		return nil, ErrInvalidBlockSize
	}
	return &Medium{
		base:      base,
		blockSize: int64(blockSize),
		blocks: btree.NewG[*block](2, func(a, b *block) bool {
			return a.position < b.position
		}),
	}, nil
}

// Base returns the wrapped medium.
// Buffered returns the number of blocks waiting for Flush.
func (m *Medium) Buffered() int {
	return m.blocks.Len()
}

// Enable starts buffering writes.
func (m *Medium) Enable() error {
	if m.enabled {
		return nil
	}
	size, err := m.base.Size()
	if err != nil {
		return err
	}
	m.enabled = true
	m.length = size
	m.visible = size
	m.truncated = false
	return nil
}

// Disable stops buffering. It fails if anything is still buffered.
func (m *Medium) Disable() error {
	if m.blocks.Len() > 0 || m.truncated {
		return ErrBufferedData
	}
	m.enabled = false
	return nil
}

func (m *Medium) alignDown(pos int64) int64 {
	return (pos / m.blockSize) * m.blockSize
}

// fill reads base bytes for a block, zeroing everything past the visible prefix.
func (m *Medium) fill(b *block) error {
	clear(b.data)
	if b.position >= m.visible {
		return nil
	}
	n := int64(len(b.data))
	if b.end() > m.visible {
		n = m.visible - b.position
	}
	return storage.ReadFull(m.base, b.data[:n], b.position)
}

func (m *Medium) ReadAt(p []byte, off int64) (int, error) {
	if !m.enabled {
		return m.base.ReadAt(p, off)
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}
	if off >= m.length {
		return 0, io.EOF
	}

	want := int64(len(p))
	if avail := m.length - off; want > avail {
		want = avail
	}

	var read int64
	for read < want {
		pos := off + read
		blockPos := m.alignDown(pos)
		chunk := min(want-read, blockPos+m.blockSize-pos)
		dst := p[read : read+chunk]

		if b, ok := m.blocks.Get(&block{position: blockPos}); ok {
			copy(dst, b.data[pos-blockPos:])
		} else {
			clear(dst)
			if pos < m.visible {
				n := min(chunk, m.visible-pos)
				if err := storage.ReadFull(m.base, dst[:n], pos); err != nil {
					return int(read), err
				}
			}
		}
		read += chunk
	}

	if read < int64(len(p)) {
		return int(read), io.EOF
	}
	return int(read), nil
}

func (m *Medium) WriteAt(p []byte, off int64) (int, error) {
	if !m.enabled {
		return m.base.WriteAt(p, off)
	}
	if off < 0 {
		return 0, ErrNegativeOffset
	}

	var written int64
	for written < int64(len(p)) {
		pos := off + written
		blockPos := m.alignDown(pos)

		b, ok := m.blocks.Get(&block{position: blockPos})
		if !ok {
			b = &block{position: blockPos, data: make([]byte, m.blockSize)}
			if err := m.fill(b); err != nil {
				return int(written), fmt.Errorf("failed to fill block at %d: %w", blockPos, err)
			}
			m.blocks.ReplaceOrInsert(b)
		}
		written += int64(copy(b.data[pos-blockPos:], p[written:]))
	}

	if end := off + int64(len(p)); end > m.length {
		m.length = end
	}
	return len(p), nil
}

func (m *Medium) Size() (int64, error) {
	if !m.enabled {
		return m.base.Size()
	}
	return m.length, nil
}

// Truncate is buffered like a write and applied to the base medium by Flush.
func (m *Medium) Truncate(size int64) error {
	if !m.enabled {
		return m.base.Truncate(size)
	}
	if size < 0 {
		return ErrNegativeOffset
	}

	if size < m.length {
		var drop []*block
		m.blocks.AscendGreaterOrEqual(&block{position: m.alignDown(size)}, func(b *block) bool {
			if b.position >= size {
				drop = append(drop, b)
			} else {
				clear(b.data[size-b.position:])
			}
			return true
		})
		for _, b := range drop {
			m.blocks.Delete(b)
		}

		if size < m.visible {
			m.visible = size
			m.truncated = true
		}
	}
	m.length = size
	return nil
}

// Flush writes buffered blocks to the base medium in ascending order.
func (m *Medium) Flush() error {
	if !m.enabled {
		return nil
	}

	if m.truncated {
		if err := m.base.Truncate(m.visible); err != nil {
			return fmt.Errorf("failed to truncate base medium: %w", err)
		}
	}

	var flushErr error
	m.blocks.Ascend(func(b *block) bool {
		n := min(int64(len(b.data)), m.length-b.position)
		if n <= 0 {
			return true
		}
		if _, err := m.base.WriteAt(b.data[:n], b.position); err != nil {
			flushErr = fmt.Errorf("failed to flush block at %d: %w", b.position, err)
			return false
		}
		return true
	})
	if flushErr != nil {
		return flushErr
	}

	size, err := m.base.Size()
	if err != nil {
		return err
	}
	if size < m.length {
		if err := m.base.Truncate(m.length); err != nil {
			return fmt.Errorf("failed to extend base medium: %w", err)
		}
	}

	m.blocks.Clear(false)
	m.truncated = false
	m.visible = m.length
	return nil
}

// Discard drops every buffered block and pending truncation.
func (m *Medium) Discard() error {
	m.blocks.Clear(false)
	m.truncated = false
	if !m.enabled {
		return nil
	}
	size, err := m.base.Size()
	if err != nil {
		return err
	}
	m.length = size
	m.visible = size
	return nil
}

func (m *Medium) Sync() error {
	return m.base.Sync()
}

func (m *Medium) Close() error {
	return m.base.Close()
}

var _ storage.Medium = (*Medium)(nil)
