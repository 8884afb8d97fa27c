package tmstorage

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/davidvella/tmstorage/segment"
)

// splitSize returns the total size of the segment to carve out of seg so that
// amount bytes of data area are removed. Carving from the start (allocation)
// rounds up so the caller gets at least amount bytes; carving from the end
// (shrinking) rounds down so live data is never released. When the leftover
// would be smaller than a block the whole segment is taken.
func splitSize(seg *segment.Segment, amount int64, fromEnd bool, blockSize int64) (int64, bool) {
	size := amount + segment.HeaderSize
	if fromEnd {
		size = amount - segment.HeaderSize
	}

	aligned := size%blockSize == 0
	size = (size / blockSize) * blockSize
	if !fromEnd && !aligned {
		size += blockSize
	}

	if seg.Size()-size < blockSize {
		return seg.Size(), true
	}
	return size, false
}

// allocateFromHead removes at least amount bytes of data area from the free space
// chain, taken from its head.
func (s *Stream) allocateFromHead(amount int64) ([]*segment.Segment, error) {
	blockSize := s.storage.blockSize

	var list []*segment.Segment
	for amount > 0 {
		if len(s.segments) == 0 {
			return nil, ErrOutOfSpace
		}
		head := s.segments[0]

		size, whole := splitSize(head, amount, false, blockSize)
		if whole {
			list = append(list, head)
			amount -= head.DataAreaSize()
			s.segments = s.segments[1:]
			continue
		}

		part, err := head.Split(size, false)
		if err != nil {
			return nil, err
		}
		amount -= part.DataAreaSize()
		list = append(list, part)
	}

	s.rebuildChain()
	return list, nil
}

// releaseFromTail removes at most amount bytes of data area from the end of
// the stream chain.
func (s *Stream) releaseFromTail(amount int64) ([]*segment.Segment, error) {
	blockSize := s.storage.blockSize
	amount = min(amount, s.meta.length)

	var list []*segment.Segment
	for amount > 0 && len(s.segments) > 0 {
		last := len(s.segments) - 1
		tail := s.segments[last]

		size, whole := splitSize(tail, amount, true, blockSize)
		// Nothing can be carved without cutting into live data.
		if size == 0 {
			break
		}

		if whole {
			list = append(list, tail)
			amount -= tail.DataAreaSize()
			s.segments = s.segments[:last]
			continue
		}

		part, err := tail.Split(size, true)
		if err != nil {
			return nil, err
		}
		amount -= part.DataAreaSize()
		list = append(list, part)
	}

	s.rebuildChain()
	return list, nil
}

// addSegments gives list to the stream. Free space keeps its chain sorted by
// location; other streams append so existing data keeps its offsets.
func (s *Stream) addSegments(list []*segment.Segment) {
	if s.meta.id != emptySpaceID {
		s.segments = append(s.segments, list...)
		s.rebuildChain()
		return
	}

	byLocation := func(a, b *segment.Segment) int {
		return cmp.Compare(a.Location(), b.Location())
	}
	list = slices.Clone(list)
	slices.SortFunc(list, byLocation)

	merged := make([]*segment.Segment, 0, len(s.segments)+len(list))
	i, j := 0, 0
	for i < len(s.segments) || j < len(list) {
		if j == len(list) || (i < len(s.segments) && s.segments[i].Location() < list[j].Location()) {
			merged = append(merged, s.segments[i])
			i++
		} else {
			merged = append(merged, list[j])
			j++
		}
	}
	s.segments = merged
	s.rebuildChain()
}

// rebuildChain merges physically adjacent neighbours, relinks next pointers
// and records the head of the chain in the metadata.
func (s *Stream) rebuildChain() {
	chain := make([]*segment.Segment, 0, len(s.segments))
	for _, seg := range s.segments {
		if n := len(chain); n > 0 {
			if merged, err := chain[n-1].Merge(seg); err == nil && merged.Location() == chain[n-1].Location() {
				chain[n-1] = merged
				continue
			}
		}
		chain = append(chain, seg)
	}

	for i, seg := range chain {
		var next int64
		if i+1 < len(chain) {
			next = chain[i+1].Location()
		}
		seg.SetNext(next)
	}

	s.segments = chain
	s.meta.firstSegment = 0
	if len(chain) > 0 {
		s.meta.firstSegment = chain[0].Location()
	}
	s.notifyChanged()
}

// dataAreaSum is the capacity of the chain.
func (s *Stream) dataAreaSum() int64 {
	var sum int64
	for _, seg := range s.segments {
		sum += seg.DataAreaSize()
	}
	return sum
}

func (s *Stream) checkCapacity() error {
	if sum := s.dataAreaSum(); sum < s.meta.length {
		return fmt.Errorf("%w: stream %s holds %d bytes in a chain of %d", ErrStorageCorrupt, s.meta.id, s.meta.length, sum)
	}
	return nil
}
