package wal

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/davidvella/tmstorage/monitoring"
	"github.com/davidvella/tmstorage/recordio"
	"github.com/davidvella/tmstorage/storage"
	"github.com/google/uuid"
)

var (
	ErrIncompleteTransaction = errors.New("wal: previous transaction did not complete, rollback needed")
	ErrNoLog                 = errors.New("wal: log medium not specified")
	ErrTransactionActive     = errors.New("wal: unable to start a transaction while another is in progress")
	ErrCompletedTransaction  = errors.New("wal: can't roll back a completed transaction")
	ErrForeignBlock          = errors.New("wal: block of another transaction found in log")
	ErrCorruptLog            = errors.New("wal: corrupt log")
	ErrInvalidBlockSize      = errors.New("wal: block size must be positive")
)

// maxBlockRecord bounds the data carried by a single block record.
const maxBlockRecord = 1 << 20

var logger = monitoring.NewLogger("wal")

// Log is a storage.Medium that backs up overwritten regions of a master
// medium into a log medium while a transaction is active.
type Log struct {
	mu        sync.Mutex
	master    storage.Medium
	log       storage.Medium
	blockSize int64

	// header is non-nil while a transaction is active or awaiting rollback.
	header         *header
	logEnd         int64
	backedUp       *runs
	rollbackNeeded bool
}

// Open wraps master. log may be nil, in which case Begin fails with ErrNoLog
// and the Log is a plain pass-through.
func Open(master, log storage.Medium, blockSize int) (*Log, error) {
	if blockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}

	l := &Log{
		master:    master,
		log:       log,
		blockSize: int64(blockSize),
		backedUp:  newRuns(),
	}

	if log == nil {
		return l, nil
	}

	size, err := log.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to read log size: %w", err)
	}
	if size < HeaderSize {
		return l, nil
	}

	h, err := readHeader(log)
	if err != nil {
		return nil, fmt.Errorf("failed to read log header: %w", err)
	}
	// A zero id never comes from Begin; the log was never written.
	if !h.completed && h.transactionID != uuid.Nil {
		l.header = &h
		l.logEnd = size
		l.rollbackNeeded = true
		logger.Warn("incomplete transaction found",
			"transactionID", h.transactionID.String(),
			"blocks", h.blockCount)
	}
	return l, nil
}

// RollbackNeeded reports whether the log holds an interrupted transaction.
func (l *Log) RollbackNeeded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollbackNeeded
}

// Begin starts a transaction. Regions in exempt are never backed up.
func (l *Log) Begin(exempt []Run) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rollbackNeeded {
		return uuid.Nil, ErrIncompleteTransaction
	}
	if l.log == nil {
		return uuid.Nil, ErrNoLog
	}
	if l.header != nil {
		return uuid.Nil, ErrTransactionActive
	}

	length, err := l.master.Size()
	if err != nil {
		return uuid.Nil, err
	}

	l.backedUp.clear()
	for _, r := range exempt {
		l.backedUp.add(r)
	}
	l.backedUp.add(Run{Start: length, Size: math.MaxInt64 - length})

	if err := l.log.Truncate(0); err != nil {
		return uuid.Nil, fmt.Errorf("failed to truncate log: %w", err)
	}

	h := header{
		transactionID:  uuid.New(),
		originalLength: length,
	}
	if err := l.writeHeader(h); err != nil {
		return uuid.Nil, err
	}
	if err := l.log.Sync(); err != nil {
		return uuid.Nil, err
	}

	l.header = &h
	l.logEnd = HeaderSize
	return h.transactionID, nil
}

// End marks the active transaction completed. It is a no-op without one.
func (l *Log) End() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rollbackNeeded {
		return ErrIncompleteTransaction
	}
	if l.header == nil {
		return nil
	}

	if err := l.master.Sync(); err != nil {
		return fmt.Errorf("failed to sync master: %w", err)
	}

	h := *l.header
	h.completed = true
	if err := l.writeHeader(h); err != nil {
		return err
	}
	if err := l.log.Sync(); err != nil {
		return err
	}

	l.header = nil
	l.backedUp.clear()
	return nil
}

// Rollback copies every backed up block back into the master, restores its
// original length and empties the log. It is a no-op without a transaction.
func (l *Log) Rollback() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.header == nil {
		return nil
	}
	h := *l.header
	if h.completed {
		return ErrCompletedTransaction
	}

	br := recordio.NewBinaryReader(io.NewSectionReader(l.log, HeaderSize, l.logEnd-HeaderSize))
	for i := int64(0); i < h.blockCount; i++ {
		bh, err := readBlockHeader(br)
		if err != nil {
			return fmt.Errorf("%w: block %d: %w", ErrCorruptLog, i, err)
		}
		if bh.transactionID != h.transactionID {
			return ErrForeignBlock
		}
		data := make([]byte, bh.size)
		if err := br.ReadRaw(data); err != nil {
			return fmt.Errorf("%w: block %d data: %w", ErrCorruptLog, i, err)
		}
		if _, err := l.master.WriteAt(data, bh.position); err != nil {
			return fmt.Errorf("failed to restore block at %d: %w", bh.position, err)
		}
	}

	size, err := l.master.Size()
	if err != nil {
		return err
	}
	if size != h.originalLength {
		if err := l.master.Truncate(h.originalLength); err != nil {
			return fmt.Errorf("failed to restore master length: %w", err)
		}
	}
	if err := l.master.Sync(); err != nil {
		return err
	}

	if err := l.log.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate log: %w", err)
	}
	if err := l.log.Sync(); err != nil {
		return err
	}

	logger.Info("rolled back",
		"transactionID", h.transactionID.String(),
		"blocks", h.blockCount)

	l.header = nil
	l.logEnd = 0
	l.backedUp.clear()
	l.rollbackNeeded = false
	return nil
}

func (l *Log) writeHeader(h header) error {
	if _, err := l.log.WriteAt(h.marshal(), 0); err != nil {
		return fmt.Errorf("failed to write log header: %w", err)
	}
	return nil
}

func (l *Log) roundDown(pos int64) int64 {
	return (pos / l.blockSize) * l.blockSize
}

func (l *Log) roundUp(pos int64) int64 {
	r := l.roundDown(pos)
	if pos%l.blockSize > 0 {
		r += l.blockSize
	}
	return r
}

// backup copies the parts of [location, location+size) that were not backed
// up yet into the log.
func (l *Log) backup(location, size int64) error {
	if l.header == nil || size <= 0 {
		return nil
	}

	end := l.roundUp(location + size)
	location = l.roundDown(location)

	wrote := false
	for location < end {
		if r, ok := l.backedUp.covering(location); ok {
			location = min(r.End(), end)
			continue
		}

		stop := end
		if next, ok := l.backedUp.after(location); ok && next.Start < stop {
			stop = next.Start
		}

		for pos := location; pos < stop; pos += maxBlockRecord {
			if err := l.backupData(pos, min(stop-pos, maxBlockRecord)); err != nil {
				return err
			}
		}
		wrote = true
		l.backedUp.add(Run{Start: location, Size: stop - location})
		location = stop
	}

	if wrote {
		return l.log.Sync()
	}
	return nil
}

func (l *Log) backupData(location, size int64) error {
	masterSize, err := l.master.Size()
	if err != nil {
		return err
	}
	if location >= masterSize {
		return nil
	}
	size = min(size, masterSize-location)

	data := make([]byte, size)
	if err := storage.ReadFull(l.master, data, location); err != nil {
		return fmt.Errorf("failed to read master at %d: %w", location, err)
	}

	bh := blockHeader{
		transactionID: l.header.transactionID,
		position:      location,
		size:          int32(size),
	}
	record := append(bh.marshal(), data...)
	if _, err := l.log.WriteAt(record, l.logEnd); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}
	l.logEnd += int64(len(record))

	l.header.blockCount++
	return l.writeHeader(*l.header)
}

func (l *Log) ReadAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rollbackNeeded {
		return 0, ErrIncompleteTransaction
	}
	return l.master.ReadAt(p, off)
}

func (l *Log) WriteAt(p []byte, off int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rollbackNeeded {
		return 0, ErrIncompleteTransaction
	}
	if err := l.backup(off, int64(len(p))); err != nil {
		return 0, fmt.Errorf("failed to back up region: %w", err)
	}
	return l.master.WriteAt(p, off)
}

func (l *Log) Size() (int64, error) {
	return l.master.Size()
}

func (l *Log) Truncate(size int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rollbackNeeded {
		return ErrIncompleteTransaction
	}
	length, err := l.master.Size()
	if err != nil {
		return err
	}
	if size < length {
		if err := l.backup(size, length-size); err != nil {
			return fmt.Errorf("failed to back up truncated region: %w", err)
		}
	}
	return l.master.Truncate(size)
}

func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rollbackNeeded {
		return ErrIncompleteTransaction
	}
	return l.master.Sync()
}

// Close closes the master and the log medium.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.master.Close()
	if l.log != nil {
		err = errors.Join(err, l.log.Close())
	}
	return err
}

var _ storage.Medium = (*Log)(nil)
