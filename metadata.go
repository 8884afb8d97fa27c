package tmstorage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/davidvella/tmstorage/recordio"
	"github.com/davidvella/tmstorage/segment"
)

// streamMetadataSize is the size of one stream table slot.
const streamMetadataSize = 48

// streamMetadata is the persisted description of a stream:
//
//	id (16) · length (8) · initialized length (8) · first segment (8) · tag (4) · hash (4)
type streamMetadata struct {
	id                StreamID
	length            int64
	initializedLength int64
	// firstSegment is 0 for a stream without segments.
	firstSegment int64
	tag          int32
	// slot is the stream table index, -1 for streams without a table entry.
	slot int
}

func (m *streamMetadata) hash() int32 {
	return recordio.Hash(
		recordio.HashBytes(m.id[:]),
		recordio.HashInt64(m.length),
		recordio.HashInt64(m.initializedLength),
		recordio.HashInt64(m.firstSegment),
	)
}

func (m *streamMetadata) marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, streamMetadataSize))
	w := recordio.NewBinaryWriter(buf)
	_, _ = w.WriteRaw(m.id[:])
	_, _ = w.WriteInt64(m.length)
	_, _ = w.WriteInt64(m.initializedLength)
	_, _ = w.WriteInt64(m.firstSegment)
	_, _ = w.WriteInt32(m.tag)
	_, _ = w.WriteInt32(m.hash())
	return buf.Bytes()
}

func decodeStreamMetadata(slot int, b []byte) (*streamMetadata, error) {
	if len(b) < streamMetadataSize {
		return nil, fmt.Errorf("%w: short stream table entry %d", ErrStorageCorrupt, slot)
	}
	br := recordio.NewBinaryReader(bytes.NewReader(b[:streamMetadataSize]))
	m := &streamMetadata{slot: slot}

	// Reads from a slice of the right length cannot fail.
	_ = br.ReadRaw(m.id[:])
	m.length, _ = br.ReadInt64()
	m.initializedLength, _ = br.ReadInt64()
	m.firstSegment, _ = br.ReadInt64()
	m.tag, _ = br.ReadInt32()
	stored, _ := br.ReadInt32()

	if stored != m.hash() {
		return nil, fmt.Errorf("%w: stream table entry %d: %w", ErrStorageCorrupt, slot, recordio.ErrChecksum)
	}
	if m.initializedLength > m.length || m.length < 0 || m.initializedLength < 0 {
		return nil, fmt.Errorf("%w: stream table entry %d: invalid lengths", ErrStorageCorrupt, slot)
	}
	return m, nil
}

// Metadata describes a storage as a whole. Only the version is persisted in
// the metadata record; the block size is the size of the metadata segment.
//
//	length-prefixed version · int32 hash(version)
type Metadata struct {
	Version   string
	BlockSize int
}

// metadataOverhead is the encoded size of Metadata without the version bytes.
var metadataOverhead = recordio.Uint64Size + recordio.Int32Size

func maxVersionLength(blockSize int64) int64 {
	return blockSize - segment.HeaderSize - metadataOverhead
}

func (m Metadata) hash() int32 {
	return recordio.HashString(m.Version)
}

func (m Metadata) save(w io.Writer) error {
	bw := recordio.NewBinaryWriter(w)
	if _, err := bw.WriteString(m.Version); err != nil {
		return err
	}
	_, err := bw.WriteInt32(m.hash())
	return err
}

// loadMetadata reads the metadata record. BlockSize is left to the caller.
func loadMetadata(r io.Reader) (Metadata, error) {
	br := recordio.NewBinaryReader(r)

	version, err := br.ReadString()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata version: %w", ErrStorageCorrupt, err)
	}
	stored, err := br.ReadInt32()
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: metadata hash: %w", ErrStorageCorrupt, err)
	}

	m := Metadata{Version: version}
	if stored != m.hash() {
		return Metadata{}, fmt.Errorf("%w: metadata hash check failed", ErrStorageCorrupt)
	}
	return m, nil
}
