package tmstorage

import (
	"fmt"

	"github.com/davidvella/tmstorage/buffer"
)

const (
	// DefaultVersion is written into the metadata of newly created storages.
	DefaultVersion = "[TmStorage 1.0]"
	// DefaultBlockSize is the allocation granularity of newly created storages.
	DefaultBlockSize = buffer.MinBlockSize
	// DefaultTableEntries sizes the stream table of newly created storages.
	DefaultTableEntries = 1000
)

// options defines all configuration options for a storage.
type options struct {
	// Creation options, ignored when opening an existing storage.
	blockSize    int
	tableEntries int
	version      string

	// Runtime options
	buffering   bool // Defer writes to the medium until commit
	autoRecover bool // Roll back an interrupted transaction on open
}

// Option is a function that configures the storage options.
type Option func(*options)

// WithBlockSize sets the block size of a new storage. It must be a multiple of 512.
func WithBlockSize(size int) Option {
	return func(o *options) {
		o.blockSize = size
	}
}

// WithInitialTableEntries sets how many streams fit in the stream table of a
// new storage before it has to grow.
func WithInitialTableEntries(n int) Option {
	return func(o *options) {
		o.tableEntries = n
	}
}

// WithVersion sets the version string stored in the metadata of a new storage.
func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

// WithBuffering enables or disables the in-memory write buffer used during transactions.
func WithBuffering(enabled bool) Option {
	return func(o *options) {
		o.buffering = enabled
	}
}

// WithAutoRecover makes Open roll back a transaction that a previous process
// left unfinished in the log instead of failing with ErrUnableToOpenStorage.
func WithAutoRecover(enabled bool) Option {
	return func(o *options) {
		o.autoRecover = enabled
	}
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		blockSize:    DefaultBlockSize,
		tableEntries: DefaultTableEntries,
		version:      DefaultVersion,
		buffering:    true,
	}
}

func (o options) validate() error {
	if o.blockSize < buffer.MinBlockSize || o.blockSize%buffer.MinBlockSize != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, o.blockSize)
	}
	if o.tableEntries <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTableEntries, o.tableEntries)
	}
	if int64(len(o.version)) > maxVersionLength(int64(o.blockSize)) {
		return ErrVersionTooLong
	}
	return nil
}
