package tmstorage

import (
	"testing"

	"github.com/davidvella/tmstorage/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSize(t *testing.T) {
	const blockSize = 512

	tests := []struct {
		name      string
		segSize   int64
		amount    int64
		fromEnd   bool
		wantSize  int64
		wantWhole bool
	}{
		{name: "allocate rounds up", segSize: 1 << 20, amount: 1000, wantSize: 1024},
		{name: "allocate aligned", segSize: 1 << 20, amount: 492, wantSize: 512},
		{name: "allocate takes whole on small leftover", segSize: 1200, amount: 1000, wantSize: 1200, wantWhole: true},
		{name: "shrink rounds down", segSize: 4096, amount: 1000, fromEnd: true, wantSize: 512},
		{name: "shrink below a block", segSize: 4096, amount: 300, fromEnd: true, wantSize: 0},
		{name: "shrink whole segment", segSize: 1024, amount: 1100, fromEnd: true, wantSize: 1024, wantWhole: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg, err := segment.New(0, tt.segSize, 0)
			require.NoError(t, err)

			size, whole := splitSize(seg, tt.amount, tt.fromEnd, blockSize)
			assert.Equal(t, tt.wantSize, size)
			assert.Equal(t, tt.wantWhole, whole)
		})
	}
}

func TestRebuildChain_MergesAndLinks(t *testing.T) {
	s, _ := openMemory(t)

	a, _ := segment.New(1024, 512, 0)
	b, _ := segment.New(1536, 512, 0)
	c, _ := segment.New(4096, 512, 0)
	st := &Stream{storage: s, meta: &streamMetadata{id: NewStreamID(), slot: -1}}
	st.segments = []*segment.Segment{a, b, c}

	require.NoError(t, s.StartTransaction())
	st.rebuildChain()

	require.Len(t, st.segments, 2)
	assert.Equal(t, int64(1024), st.meta.firstSegment)
	assert.Equal(t, int64(1024), st.segments[0].Size())
	assert.True(t, st.segments[0].Dirty())
	next, ok := st.segments[0].Next()
	assert.True(t, ok)
	assert.Equal(t, int64(4096), next)
	_, ok = st.segments[1].Next()
	assert.False(t, ok)

	// The stream is queued for saving; drop it so rollback starts clean.
	require.NoError(t, s.RollbackTransaction())
}

func TestAddSegments_FreeSpaceStaysSorted(t *testing.T) {
	s, _ := openMemory(t)
	free := s.free

	require.NoError(t, s.StartTransaction())
	defer func() { require.NoError(t, s.RollbackTransaction()) }()

	head := free.segments[0].Location()
	list, err := free.allocateFromHead(3 * 492)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3*512), list[0].Size())

	parts := make([]*segment.Segment, 0, 3)
	for i := int64(0); i < 3; i++ {
		p, err := segment.New(head+i*512, 512, 0)
		require.NoError(t, err)
		parts = append(parts, p)
	}

	// Returned out of order and one at a time, they still merge back into one.
	free.addSegments([]*segment.Segment{parts[2]})
	assert.Len(t, free.segments, 1, "touches the remaining free space")
	free.addSegments([]*segment.Segment{parts[0]})
	assert.Len(t, free.segments, 2)
	free.addSegments([]*segment.Segment{parts[1]})

	require.Len(t, free.segments, 1)
	assert.Equal(t, head, free.segments[0].Location())
}

func TestRebuildChain_KeepsDataOrder(t *testing.T) {
	s, _ := openMemory(t)

	// The second segment sits just before the first on the medium; joining
	// them would swap the order of the stream bytes.
	first, _ := segment.New(2048, 512, 0)
	second, _ := segment.New(1536, 512, 0)
	st := &Stream{storage: s, meta: &streamMetadata{id: NewStreamID(), slot: -1}}
	st.segments = []*segment.Segment{first, second}

	require.NoError(t, s.StartTransaction())
	st.rebuildChain()

	require.Len(t, st.segments, 2)
	assert.Equal(t, int64(2048), st.meta.firstSegment)
	assert.Same(t, second, st.segments[1])
	require.NoError(t, s.RollbackTransaction())
}
