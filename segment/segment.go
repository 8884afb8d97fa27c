// Package segment implements the contiguous extents a storage is carved into.
//
// Every segment starts with a 20 byte header:
//
//	int64 size · int64 next segment location (0 = last) · int32 hash
//
// and the rest of the segment is its data area. Segments of one stream are
// linked through the next location.
package segment

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/davidvella/tmstorage/recordio"
)

// HeaderSize is the size of the persisted segment header.
const HeaderSize = 20

var (
	ErrInvalidSegment = errors.New("segment: error loading segment")
	ErrInvalidSize    = errors.New("segment: size must be greater than zero")
	ErrSplitTooLarge  = errors.New("segment: size to split is larger than the segment itself")
	ErrNotAdjacent    = errors.New("segment: segments do not touch each other")
)

// Extent is a location and total size pair, header included.
type Extent struct {
	Location int64
	Size     int64
}

// End returns the first byte after the extent.
func (e Extent) End() int64 {
	return e.Location + e.Size
}

// Segment is an extent of the medium owned by one stream.
type Segment struct {
	location int64
	size     int64
	next     int64
	dirty    bool
}

// New creates a segment. next is 0 when the segment is the last in its chain.
func New(location, size, next int64) (*Segment, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return &Segment{location: location, size: size, next: next, dirty: true}, nil
}

func (s *Segment) Location() int64 { return s.location }

func (s *Segment) Size() int64 { return s.size }

// SetSize grows or shrinks the segment in place.
func (s *Segment) SetSize(size int64) {
	if s.size != size {
		s.size = size
		s.dirty = true
	}
}

// Next returns the location of the following segment and whether there is one.
func (s *Segment) Next() (int64, bool) {
	return s.next, s.next != 0
}

// SetNext links the segment to the one at location; 0 marks the end of the chain.
func (s *Segment) SetNext(location int64) {
	if s.next != location {
		s.next = location
		s.dirty = true
	}
}

func (s *Segment) DataAreaStart() int64 { return s.location + HeaderSize }

func (s *Segment) DataAreaSize() int64 { return s.size - HeaderSize }

func (s *Segment) DataAreaEnd() int64 { return s.location + s.size }

// Dirty reports whether the header differs from what was last saved or loaded.
func (s *Segment) Dirty() bool { return s.dirty }

func (s *Segment) Extent() Extent {
	return Extent{Location: s.location, Size: s.size}
}

func (s *Segment) String() string {
	return fmt.Sprintf("segment{loc=%d size=%d next=%d}", s.location, s.size, s.next)
}

// Split shrinks the segment by amount and returns a new segment covering the
// removed part, taken from the end or from the start of s.
func (s *Segment) Split(amount int64, fromEnd bool) (*Segment, error) {
	if amount > s.size {
		return nil, ErrSplitTooLarge
	}

	var split *Segment
	var err error
	if fromEnd {
		split, err = New(s.location+s.size-amount, amount, 0)
	} else {
		split, err = New(s.location, amount, 0)
		if err == nil {
			s.location += amount
			s.dirty = true
		}
	}
	if err != nil {
		return nil, err
	}

	s.SetSize(s.size - amount)
	return split, nil
}

// Merge returns a new segment spanning s and other, which must be adjacent.
func (s *Segment) Merge(other *Segment) (*Segment, error) {
	switch {
	case s.DataAreaEnd() == other.location:
		return New(s.location, s.size+other.size, 0)
	case other.DataAreaEnd() == s.location:
		return New(other.location, s.size+other.size, 0)
	default:
		return nil, ErrNotAdjacent
	}
}

func hash(size, next int64) int32 {
	return recordio.Hash(recordio.HashInt64(size), recordio.HashInt64(next))
}

// MarshalBinary encodes the header.
func (s *Segment) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	bw := recordio.NewBinaryWriter(buf)

	if _, err := bw.WriteInt64(s.size); err != nil {
		return nil, err
	}
	if _, err := bw.WriteInt64(s.next); err != nil {
		return nil, err
	}
	if _, err := bw.WriteInt32(hash(s.size, s.next)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a header read from location.
func Decode(location int64, b []byte) (*Segment, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w at %d: short header", ErrInvalidSegment, location)
	}
	br := recordio.NewBinaryReader(bytes.NewReader(b[:HeaderSize]))

	size, err := br.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("%w at %d: %w", ErrInvalidSegment, location, err)
	}
	next, err := br.ReadInt64()
	if err != nil {
		return nil, fmt.Errorf("%w at %d: %w", ErrInvalidSegment, location, err)
	}
	stored, err := br.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("%w at %d: %w", ErrInvalidSegment, location, err)
	}

	if stored != hash(size, next) {
		return nil, fmt.Errorf("%w at %d: %w", ErrInvalidSegment, location, recordio.ErrChecksum)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w at %d: %w", ErrInvalidSegment, location, ErrInvalidSize)
	}

	return &Segment{location: location, size: size, next: next}, nil
}

// Load reads the segment header stored at location.
func Load(r io.ReaderAt, location int64) (*Segment, error) {
	buf := make([]byte, HeaderSize)
	n, err := r.ReadAt(buf, location)
	if err != nil && (!errors.Is(err, io.EOF) || n < HeaderSize) {
		return nil, fmt.Errorf("%w at %d: %w", ErrInvalidSegment, location, err)
	}
	return Decode(location, buf)
}

// Save writes the header when it changed since the last Save or Load.
func (s *Segment) Save(w io.WriterAt) error {
	if !s.dirty {
		return nil
	}

	b, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(b, s.location); err != nil {
		return fmt.Errorf("failed to save %s: %w", s, err)
	}

	s.dirty = false
	return nil
}
