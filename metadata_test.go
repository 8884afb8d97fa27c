package tmstorage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMetadata_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		meta streamMetadata
	}{
		{name: "empty stream", meta: streamMetadata{id: NewStreamID()}},
		{
			name: "partially initialized",
			meta: streamMetadata{id: NewStreamID(), length: 5000, initializedLength: 1200, firstSegment: 51712, tag: 7},
		},
		{
			name: "negative tag",
			meta: streamMetadata{id: NewStreamID(), length: 1, initializedLength: 1, firstSegment: 1 << 40, tag: -3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.meta.marshal()
			require.Len(t, b, streamMetadataSize)

			got, err := decodeStreamMetadata(4, b)
			require.NoError(t, err)
			want := tt.meta
			want.slot = 4
			assert.Equal(t, &want, got)
		})
	}
}

func TestStreamMetadata_DetectsCorruption(t *testing.T) {
	meta := streamMetadata{id: NewStreamID(), length: 4096, initializedLength: 100, firstSegment: 51712}
	b := meta.marshal()

	// The tag is not covered by the hash.
	const tagStart, tagEnd = 40, 44
	for i := range b {
		if i >= tagStart && i < tagEnd {
			continue
		}
		corrupted := bytes.Clone(b)
		corrupted[i] ^= 0x01
		_, err := decodeStreamMetadata(0, corrupted)
		assert.ErrorIs(t, err, ErrStorageCorrupt, "byte %d", i)
	}
}

func TestStreamMetadata_ZeroSlotIsValid(t *testing.T) {
	got, err := decodeStreamMetadata(9, make([]byte, streamMetadataSize))
	require.NoError(t, err)
	assert.Equal(t, StreamID{}, got.id)
}

func TestMetadata_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Metadata{Version: DefaultVersion}
	require.NoError(t, want.save(&buf))
	assert.Len(t, buf.Bytes(), len(DefaultVersion)+int(metadataOverhead))

	got, err := loadMetadata(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	corrupted := buf.Bytes()
	corrupted[10] ^= 0xff
	_, err = loadMetadata(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrStorageCorrupt)
}

func TestCreate_MetadataBlockLayout(t *testing.T) {
	s, m := openMemory(t)
	require.NoError(t, s.Close())

	want := []byte{
		// segment header: size 512, no next segment, hash
		0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x02, 0x00, 0x00,
		// version length 15, "[TmStorage 1.0]"
		0x0f, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x5b, 0x54, 0x6d, 0x53, 0x74, 0x6f, 0x72, 0x61,
		0x67, 0x65, 0x20, 0x31, 0x2e, 0x30, 0x5d,
		// FNV-1a of the version
		0x86, 0xb7, 0xea, 0x9a,
	}

	b := m.Bytes()
	assert.Equal(t, want, b[:len(want)])
	assert.Equal(t, make([]byte, DefaultBlockSize-len(want)), b[len(want):DefaultBlockSize])
}
