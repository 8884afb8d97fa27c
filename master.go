package tmstorage

import (
	"fmt"

	"github.com/davidvella/tmstorage/buffer"
	"github.com/davidvella/tmstorage/metrics"
	"github.com/davidvella/tmstorage/storage"
)

const (
	metricBytesRead    = "bytes_read_total"
	metricBytesWritten = "bytes_written_total"
)

// master is the medium every stream reads and writes through. It refuses
// writes outside a transaction and, when buffering is on, keeps the writes of
// the current transaction in memory until commit.
type master struct {
	base   storage.Medium
	buffer *buffer.Medium
	// medium is buffer when buffering is on, base otherwise.
	medium        storage.Medium
	inTransaction bool
	registry      *metrics.Registry
}

func newMaster(base storage.Medium, blockSize int, buffering bool, registry *metrics.Registry) (*master, error) {
	registry.Register(metrics.Metric{
		Name:        metricBytesRead,
		Type:        metrics.Counter,
		Description: "Bytes read from the medium",
	})
	registry.Register(metrics.Metric{
		Name:        metricBytesWritten,
		Type:        metrics.Counter,
		Description: "Bytes written to the medium",
	})

	m := &master{base: base, medium: base, registry: registry}
	if buffering {
		b, err := buffer.New(base, blockSize)
		if err != nil {
			return nil, err
		}
		m.buffer = b
		m.medium = b
	}
	return m, nil
}

func (m *master) ReadAt(p []byte, off int64) (int, error) {
	n, err := m.medium.ReadAt(p, off)
	m.registry.Add(metricBytesRead, int64(n))
	return n, err
}

func (m *master) WriteAt(p []byte, off int64) (int, error) {
	if !m.inTransaction {
		return 0, ErrWritingOutsideOfTransaction
	}
	m.registry.Add(metricBytesWritten, int64(len(p)))
	return m.medium.WriteAt(p, off)
}

func (m *master) Size() (int64, error) {
	return m.medium.Size()
}

func (m *master) Truncate(size int64) error {
	if !m.inTransaction {
		return ErrWritingOutsideOfTransaction
	}
	return m.medium.Truncate(size)
}

func (m *master) start() error {
	if m.buffer != nil {
		if err := m.buffer.Enable(); err != nil {
			return fmt.Errorf("failed to enable buffering: %w", err)
		}
	}
	m.inTransaction = true
	return nil
}

// flush writes buffered blocks to the layer below.
func (m *master) flush() error {
	if m.buffer == nil {
		return nil
	}
	return m.buffer.Flush()
}

// commit leaves transaction mode. Everything must have been flushed.
func (m *master) commit() error {
	m.inTransaction = false
	if m.buffer != nil {
		return m.buffer.Disable()
	}
	return nil
}

// rollback drops buffered writes and leaves transaction mode.
func (m *master) rollback() error {
	m.inTransaction = false
	if m.buffer == nil {
		return nil
	}
	if err := m.buffer.Discard(); err != nil {
		return err
	}
	return m.buffer.Disable()
}

// canDiscard reports whether nothing written in the current transaction has
// reached the layer below yet.
func (m *master) canDiscard() bool {
	return m.buffer != nil
}

func (m *master) sync() error {
	return m.base.Sync()
}

func (m *master) close() error {
	return m.base.Close()
}
