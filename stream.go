package tmstorage

import (
	"fmt"
	"io"

	"github.com/davidvella/tmstorage/segment"
	"github.com/davidvella/tmstorage/storage"
)

// zeroChunk bounds the buffer used to zero-fill gaps.
const zeroChunk = 64 << 10

// Stream is a resizable byte sequence stored in a chain of segments.
//
// Every mutating call runs in its own transaction unless one is already
// active on the storage. A Stream is not safe for concurrent use.
type Stream struct {
	storage        *Storage
	meta           *streamMetadata
	segments       []*segment.Segment
	position       int64
	closed         bool
	changeNotified bool
}

func newStream(st *Storage, meta *streamMetadata) (*Stream, error) {
	s := &Stream{storage: st}
	if err := s.load(meta); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the segment chain that starts at meta.firstSegment.
func (s *Stream) load(meta *streamMetadata) error {
	s.meta = meta
	s.segments = nil

	visited := make(map[int64]struct{})
	for location := meta.firstSegment; location != 0; {
		if _, ok := visited[location]; ok {
			return fmt.Errorf("%w: stream %s has a cycle at %d", ErrStorageCorrupt, meta.id, location)
		}
		visited[location] = struct{}{}

		seg, err := segment.Load(s.storage.master, location)
		if err != nil {
			return fmt.Errorf("%w: stream %s: %w", ErrStorageCorrupt, meta.id, err)
		}
		s.segments = append(s.segments, seg)
		location, _ = seg.Next()
	}

	// The table stream has no entry of its own to keep a length in.
	if meta.id == streamTableID {
		meta.length = s.dataAreaSum()
		meta.initializedLength = meta.length
	}
	if meta.id != emptySpaceID {
		return s.checkCapacity()
	}
	return nil
}

func (s *Stream) checkClosed() error {
	if s.storage.closed {
		return ErrStorageClosed
	}
	if s.closed {
		return ErrStreamClosed
	}
	return nil
}

func (s *Stream) ID() StreamID {
	return s.meta.id
}

func (s *Stream) Tag() int32 {
	return s.meta.tag
}

// Length returns the logical length of the stream.
func (s *Stream) Length() int64 {
	return s.meta.length
}

// Position returns the offset used by the next Read or Write.
func (s *Stream) Position() int64 {
	return s.position
}

// Extents returns the segments of the stream in chain order.
func (s *Stream) Extents() ([]segment.Extent, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	extents := make([]segment.Extent, 0, len(s.segments))
	for _, seg := range s.segments {
		extents = append(extents, seg.Extent())
	}
	return extents, nil
}

// Read reads from the current position and advances it.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	n, err := s.readAt(p, s.position)
	s.position += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAt reads len(p) bytes at off without moving the position. It returns
// io.EOF when fewer bytes are available.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrNegativePosition
	}
	n, err := s.readAt(p, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// readAt reads up to the end of the stream. Bytes past the initialized
// length read as zero without touching the medium.
func (s *Stream) readAt(p []byte, off int64) (int, error) {
	count := min(int64(len(p)), s.meta.length-off)
	if count <= 0 {
		return 0, nil
	}
	written := max(min(count, s.meta.initializedLength-off), 0)

	if err := s.transfer(p[:written], off, false); err != nil {
		return 0, err
	}
	clear(p[written:count])
	return int(count), nil
}

// transfer copies p from or to the chain starting at stream offset off.
func (s *Stream) transfer(p []byte, off int64, write bool) error {
	m := s.storage.master
	for _, seg := range s.segments {
		if len(p) == 0 {
			return nil
		}
		size := seg.DataAreaSize()
		if off >= size {
			off -= size
			continue
		}

		n := min(int64(len(p)), size-off)
		at := seg.DataAreaStart() + off
		if write {
			if _, err := m.WriteAt(p[:n], at); err != nil {
				return err
			}
		} else if err := storage.ReadFull(m, p[:n], at); err != nil {
			return err
		}
		p = p[n:]
		off = 0
	}
	if len(p) > 0 {
		return fmt.Errorf("%w: stream %s chain is shorter than its length", ErrStorageCorrupt, s.meta.id)
	}
	return nil
}

// Write writes p at the current position, growing the stream as needed.
func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.WriteAt(p, s.position)
	s.position += int64(n)
	return n, err
}

// WriteAt writes p at off without moving the position. A gap between the
// initialized length and off is zero-filled first.
func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrNegativePosition
	}
	if len(p) == 0 {
		return 0, nil
	}

	err := s.storage.transact(func() error {
		if end := off + int64(len(p)); end > s.meta.length {
			if err := s.setLength(end); err != nil {
				return err
			}
		}
		if off > s.meta.initializedLength {
			if err := s.fillZeros(s.meta.initializedLength, off); err != nil {
				return err
			}
		}
		return s.writeData(p, off)
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Stream) writeData(p []byte, off int64) error {
	if err := s.transfer(p, off, true); err != nil {
		return err
	}
	if end := off + int64(len(p)); end > s.meta.initializedLength {
		s.meta.initializedLength = end
		s.notifyChanged()
	}
	return nil
}

// fillZeros writes zeros over [from, to).
func (s *Stream) fillZeros(from, to int64) error {
	zeros := make([]byte, min(to-from, zeroChunk))
	for from < to {
		n := min(to-from, int64(len(zeros)))
		if err := s.writeData(zeros[:n], from); err != nil {
			return err
		}
		from += n
	}
	return nil
}

// Seek sets the position for the next Read or Write, following io.Seeker:
// Seek(-n, io.SeekEnd) moves n bytes before the end.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}

	var position int64
	switch whence {
	case io.SeekStart:
		position = offset
	case io.SeekCurrent:
		position = s.position + offset
	case io.SeekEnd:
		position = s.meta.length + offset
	default:
		return 0, fmt.Errorf("tmstorage: invalid whence %d", whence)
	}
	if position < 0 {
		return 0, ErrNegativePosition
	}
	s.position = position
	return position, nil
}

// SetLength grows or shrinks the stream. Growing takes space from the free
// space, shrinking gives whole blocks back to it.
func (s *Stream) SetLength(length int64) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if length < 0 {
		return ErrNegativeLength
	}
	return s.setLength(length)
}

func (s *Stream) setLength(length int64) error {
	if length == s.meta.length {
		return nil
	}

	return s.storage.transact(func() error {
		free := s.storage.free

		switch {
		case length > s.meta.length:
			list, err := free.allocateFromHead(length - s.meta.length)
			if err != nil {
				return err
			}
			s.addSegments(list)
		case length == 0:
			released := s.segments
			s.segments = nil
			s.meta.length = 0
			s.rebuildChain()
			free.addSegments(released)
		default:
			list, err := s.releaseFromTail(s.meta.length - length)
			if err != nil {
				return err
			}
			free.addSegments(list)
		}

		if s.meta.id == streamTableID {
			s.meta.length = s.dataAreaSum()
			s.meta.initializedLength = s.meta.length
		} else {
			s.meta.length = length
			s.meta.initializedLength = min(s.meta.initializedLength, length)
		}
		return nil
	})
}

// Close persists the stream and detaches it. Closing twice is a no-op.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	return s.storage.transact(func() error {
		if err := s.save(); err != nil {
			return err
		}
		s.internalClose()
		return nil
	})
}

// save writes dirty segment headers and the metadata entry.
func (s *Stream) save() error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	for _, seg := range s.segments {
		if err := seg.Save(s.storage.master); err != nil {
			return err
		}
	}
	if err := s.storage.table.write(s.meta); err != nil {
		return fmt.Errorf("failed to save metadata of stream %s: %w", s.meta.id, err)
	}
	s.changeNotified = false
	return nil
}

func (s *Stream) internalClose() {
	s.storage.streamClosing(s)
	s.segments = nil
	s.closed = true
}

// reload replaces the in-memory chain with the one persisted on the medium.
func (s *Stream) reload(meta *streamMetadata) error {
	s.changeNotified = false
	return s.load(meta)
}

func (s *Stream) notifyChanged() {
	if s.changeNotified {
		return
	}
	s.changeNotified = true
	s.storage.streamChanged(s)
}

var (
	_ io.ReadWriteSeeker = (*Stream)(nil)
	_ io.ReaderAt        = (*Stream)(nil)
	_ io.WriterAt        = (*Stream)(nil)
	_ io.Closer          = (*Stream)(nil)
)
