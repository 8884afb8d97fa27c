package tmstorage

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/davidvella/tmstorage/buffer"
	"github.com/davidvella/tmstorage/metrics"
	"github.com/davidvella/tmstorage/monitoring"
	"github.com/davidvella/tmstorage/segment"
	"github.com/davidvella/tmstorage/storage"
	"github.com/davidvella/tmstorage/storage/local"
	"github.com/davidvella/tmstorage/wal"
)

var logger = monitoring.NewLogger("tmstorage")

// Storage hosts any number of streams inside a single medium.
//
// A Storage is not safe for concurrent use; callers serialize access.
type Storage struct {
	// mu guards the open stream index while closing and rolling back.
	mu sync.Mutex

	log       *wal.Log
	master    *master
	blockSize int64
	metadata  Metadata
	registry  *metrics.Registry

	tableStream *Stream
	table       *table
	free        *Stream

	level int
	// dirty streams are saved on commit.
	dirty []*Stream
	// created streams are force-closed on rollback.
	created []StreamID
	open    *openStreams
	closed  bool

	onChanging []func(TransactionState)
	onChanged  []func(TransactionState)
}

// Open opens the storage held by m, creating it when m is empty. log holds
// the undo log of transactions; without it a failed transaction can only be
// undone while its writes are still buffered.
func Open(m storage.Medium, log storage.Medium, opts ...Option) (*Storage, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	size, err := m.Size()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToOpenStorage, err)
	}
	if size == 0 {
		if err := create(m, o); err != nil {
			return nil, fmt.Errorf("%w: failed to create storage: %w", ErrUnableToOpenStorage, err)
		}
		logger.Info("created storage",
			"version", o.version,
			"blockSize", o.blockSize)
	}

	metadata, err := readMetadata(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToOpenStorage, err)
	}

	s := &Storage{
		blockSize: int64(metadata.BlockSize),
		metadata:  metadata,
		registry:  metrics.NewRegistry(),
		open:      newOpenStreams(),
	}
	registerStorageMetrics(s.registry)

	base := m
	if log != nil {
		l, err := wal.Open(m, log, metadata.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnableToOpenStorage, err)
		}
		if l.RollbackNeeded() {
			if !o.autoRecover {
				return nil, fmt.Errorf("%w: %w", ErrUnableToOpenStorage, wal.ErrIncompleteTransaction)
			}
			if err := l.Rollback(); err != nil {
				return nil, fmt.Errorf("%w: recovery failed: %w", ErrUnableToOpenStorage, err)
			}
		}
		s.log = l
		base = l
	}

	s.master, err = newMaster(base, metadata.BlockSize, o.buffering, s.registry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToOpenStorage, err)
	}
	if err := s.openSystemStreams(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToOpenStorage, err)
	}

	logger.Debug("opened storage",
		"version", metadata.Version,
		"blockSize", metadata.BlockSize,
		"withLog", log != nil)
	return s, nil
}

// OpenFile opens a storage kept in a file. logPath may be empty to run without a log.
func OpenFile(path, logPath string, opts ...Option) (*Storage, error) {
	m, err := local.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToOpenStorage, err)
	}

	var log storage.Medium
	if logPath != "" {
		l, err := local.Open(logPath)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: %w", ErrUnableToOpenStorage, err), m.Close())
		}
		log = l
	}

	s, err := Open(m, log, opts...)
	if err != nil {
		err = errors.Join(err, m.Close())
		if log != nil {
			err = errors.Join(err, log.Close())
		}
		return nil, err
	}
	return s, nil
}

// Recover rolls back a transaction that was interrupted while m was open
// with log. It does nothing when the log holds no unfinished transaction.
func Recover(m, log storage.Medium) error {
	l, err := wal.Open(m, log, buffer.MinBlockSize)
	if err != nil {
		return err
	}
	if !l.RollbackNeeded() {
		return nil
	}
	if err := l.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back interrupted transaction: %w", err)
	}
	logger.Info("recovered interrupted transaction")
	return nil
}

// create lays out an empty storage: the metadata segment, the stream table
// and one free segment spanning the rest of the address space.
func create(m storage.Medium, o options) error {
	blockSize := int64(o.blockSize)

	metadataSegment, err := segment.New(0, blockSize, 0)
	if err != nil {
		return err
	}
	if err := metadataSegment.Save(m); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := (Metadata{Version: o.version}).save(&buf); err != nil {
		return err
	}
	if _, err := m.WriteAt(buf.Bytes(), metadataSegment.DataAreaStart()); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	perBlock := blockSize / streamMetadataSize
	tableSize := max(int64(o.tableEntries)/perBlock, 1) * blockSize
	tableSegment, err := segment.New(metadataSegment.DataAreaEnd(), tableSize, 0)
	if err != nil {
		return err
	}
	if err := tableSegment.Save(m); err != nil {
		return err
	}

	freeStart := tableSegment.DataAreaEnd()
	freeSegment, err := segment.New(freeStart, math.MaxInt64-freeStart, 0)
	if err != nil {
		return err
	}
	if err := freeSegment.Save(m); err != nil {
		return err
	}

	// The free space stream owns slot 0 of the table.
	free := &streamMetadata{
		id:                emptySpaceID,
		length:            freeSegment.DataAreaSize(),
		initializedLength: freeSegment.DataAreaSize(),
		firstSegment:      freeSegment.Location(),
	}
	if _, err := m.WriteAt(free.marshal(), tableSegment.DataAreaStart()); err != nil {
		return fmt.Errorf("failed to write free space entry: %w", err)
	}
	return m.Sync()
}

func readMetadata(m storage.Medium) (Metadata, error) {
	seg, err := segment.Load(m, 0)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrStorageCorrupt, err)
	}
	// The metadata segment spans exactly the first block.
	if seg.Size() < buffer.MinBlockSize || seg.Size()%buffer.MinBlockSize != 0 || seg.Size() > math.MaxInt32 {
		return Metadata{}, fmt.Errorf("%w: block size %d", ErrStorageCorrupt, seg.Size())
	}

	data := make([]byte, seg.DataAreaSize())
	if err := storage.ReadFull(m, data, seg.DataAreaStart()); err != nil {
		return Metadata{}, err
	}
	metadata, err := loadMetadata(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, err
	}
	metadata.BlockSize = int(seg.Size())
	return metadata, nil
}

// tableMetadata describes the table stream, whose chain always starts at
// the first block after the metadata segment.
func (s *Storage) tableMetadata() *streamMetadata {
	return &streamMetadata{id: streamTableID, firstSegment: s.blockSize, slot: -1}
}

func (s *Storage) openSystemStreams() error {
	var err error
	if s.tableStream, err = newStream(s, s.tableMetadata()); err != nil {
		return err
	}
	if s.table, err = newTable(s.tableStream); err != nil {
		return err
	}
	meta, err := s.freeSpaceMetadata()
	if err != nil {
		return err
	}
	s.free, err = newStream(s, meta)
	return err
}

func (s *Storage) freeSpaceMetadata() (*streamMetadata, error) {
	meta, ok, err := s.table.get(emptySpaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: free space entry missing", ErrStorageCorrupt)
	}
	return meta, nil
}

func (s *Storage) checkID(id StreamID) error {
	if s.closed {
		return ErrStorageClosed
	}
	if IsReserved(id) {
		return ErrInvalidStreamID
	}
	return nil
}

// Metadata returns the version and block size of the storage.
func (s *Storage) Metadata() Metadata {
	return s.metadata
}

// CreateStream creates an empty stream and opens it.
func (s *Storage) CreateStream(id StreamID, tag int32) (*Stream, error) {
	if err := s.checkID(id); err != nil {
		return nil, err
	}
	if s.table.contains(id) {
		return nil, ErrStreamExists
	}

	err := s.transact(func() error {
		if _, err := s.table.add(id, tag); err != nil {
			return err
		}
		s.created = append(s.created, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.OpenStream(id)
}

// OpenStream returns the stream with the given id, positioned at 0. Opening
// a stream that is already open returns the same *Stream.
func (s *Storage) OpenStream(id StreamID) (*Stream, error) {
	if err := s.checkID(id); err != nil {
		return nil, err
	}

	var st *Stream
	err := s.transact(func() error {
		st = s.open.get(id)
		if st == nil {
			meta, ok, err := s.table.get(id)
			if err != nil {
				return err
			}
			if !ok {
				return ErrStreamNotFound
			}
			if st, err = newStream(s, meta); err != nil {
				return err
			}
			s.open.put(st)
		}
		st.position = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// DeleteStream releases the space of a stream and removes it. Open handles
// of the stream are closed.
func (s *Storage) DeleteStream(id StreamID) error {
	if err := s.checkID(id); err != nil {
		return err
	}

	return s.transact(func() error {
		st, err := s.OpenStream(id)
		if err != nil {
			return err
		}
		if err := st.SetLength(0); err != nil {
			return err
		}
		if err := st.Close(); err != nil {
			return err
		}

		s.open.remove(id)
		if err := s.table.remove(id); err != nil {
			return err
		}
		s.dirty = slices.DeleteFunc(s.dirty, func(d *Stream) bool { return d == st })
		s.created = slices.DeleteFunc(s.created, func(c StreamID) bool { return c == id })
		return nil
	})
}

// ContainsStream reports whether a stream with the given id exists.
func (s *Storage) ContainsStream(id StreamID) (bool, error) {
	if err := s.checkID(id); err != nil {
		return false, err
	}

	var found bool
	err := s.transact(func() error {
		found = s.table.contains(id)
		return nil
	})
	return found, err
}

// Streams returns the ids of every stream.
func (s *Storage) Streams() ([]StreamID, error) {
	return s.streams(func(*streamMetadata) bool { return true })
}

// StreamsWithTag returns the ids of the streams created with tag.
func (s *Storage) StreamsWithTag(tag int32) ([]StreamID, error) {
	return s.streams(func(m *streamMetadata) bool { return m.tag == tag })
}

func (s *Storage) streams(keep func(*streamMetadata) bool) ([]StreamID, error) {
	if s.closed {
		return nil, ErrStorageClosed
	}
	entries, err := s.table.entries()
	if err != nil {
		return nil, err
	}

	ids := make([]StreamID, 0, len(entries))
	for _, m := range entries {
		if !IsReserved(m.id) && keep(m) {
			ids = append(ids, m.id)
		}
	}
	return ids, nil
}

// StreamExtents returns the segments of a stream in chain order.
func (s *Storage) StreamExtents(id StreamID) ([]segment.Extent, error) {
	st, err := s.OpenStream(id)
	if err != nil {
		return nil, err
	}
	return st.Extents()
}

// FreeSpaceExtents returns the free segments ordered by location.
func (s *Storage) FreeSpaceExtents() ([]segment.Extent, error) {
	if s.closed {
		return nil, ErrStorageClosed
	}
	return s.free.Extents()
}

// TrimStorage cuts the medium off where the last free segment starts its
// data area.
func (s *Storage) TrimStorage() error {
	if s.closed {
		return ErrStorageClosed
	}
	if len(s.free.segments) == 0 {
		return nil
	}
	last := s.free.segments[len(s.free.segments)-1]

	size, err := s.master.Size()
	if err != nil {
		return err
	}
	if size <= last.DataAreaStart() {
		return nil
	}

	err = s.transact(func() error {
		return s.master.Truncate(last.DataAreaStart())
	})
	if err != nil {
		return err
	}
	logger.Info("trimmed storage",
		"from", size,
		"to", last.DataAreaStart())
	return nil
}

// Close closes the storage and its media. Closing with a pending transaction
// rolls it back and fails with ErrTransactionPending.
func (s *Storage) Close() error {
	if s.level > 0 {
		return errors.Join(ErrTransactionPending, s.rollback())
	}
	if s.closed {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := errors.Join(s.master.sync(), s.master.close())
	s.open.clear()
	s.dirty = nil
	s.closed = true
	return err
}

// streamChanged queues st to be saved on commit. System streams other than
// free space persist themselves.
func (s *Storage) streamChanged(st *Stream) {
	if IsReserved(st.meta.id) && st.meta.id != emptySpaceID {
		return
	}
	if !slices.Contains(s.dirty, st) {
		s.dirty = append(s.dirty, st)
	}
}

func (s *Storage) streamClosing(st *Stream) {
	if IsReserved(st.meta.id) && st.meta.id != emptySpaceID {
		return
	}
	s.dirty = slices.DeleteFunc(s.dirty, func(d *Stream) bool { return d == st })
	s.open.remove(st.meta.id)
}

// freeRuns lists the data areas of the free segments, which never need a backup.
func (s *Storage) freeRuns() []wal.Run {
	if s.free == nil {
		return nil
	}
	runs := make([]wal.Run, 0, len(s.free.segments))
	for _, seg := range s.free.segments {
		runs = append(runs, wal.Run{Start: seg.DataAreaStart(), Size: seg.DataAreaSize()})
	}
	return runs
}
