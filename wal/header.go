package wal

import (
	"bytes"
	"fmt"
	"io"

	"github.com/davidvella/tmstorage/recordio"
	"github.com/google/uuid"
)

// HeaderSize is the encoded size of the log header.
const HeaderSize = 16 + 8 + 8 + 1

// BlockHeaderSize is the encoded size of a block record without its data.
const BlockHeaderSize = 16 + 8 + 4

type header struct {
	transactionID  uuid.UUID
	originalLength int64
	blockCount     int64
	completed      bool
}

func (h header) marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	w := recordio.NewBinaryWriter(buf)
	// Writes into a bytes.Buffer cannot fail.
	_, _ = w.WriteRaw(h.transactionID[:])
	_, _ = w.WriteInt64(h.originalLength)
	_, _ = w.WriteInt64(h.blockCount)
	_, _ = w.WriteBool(h.completed)
	return buf.Bytes()
}

func readHeader(r io.ReaderAt) (header, error) {
	var h header
	br := recordio.NewBinaryReader(io.NewSectionReader(r, 0, HeaderSize))

	if err := br.ReadRaw(h.transactionID[:]); err != nil {
		return h, fmt.Errorf("error reading transaction id: %w", err)
	}
	var err error
	if h.originalLength, err = br.ReadInt64(); err != nil {
		return h, fmt.Errorf("error reading original length: %w", err)
	}
	if h.blockCount, err = br.ReadInt64(); err != nil {
		return h, fmt.Errorf("error reading block count: %w", err)
	}
	if h.completed, err = br.ReadBool(); err != nil {
		return h, fmt.Errorf("error reading completed flag: %w", err)
	}
	return h, nil
}

type blockHeader struct {
	transactionID uuid.UUID
	position      int64
	size          int32
}

func (b blockHeader) marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, BlockHeaderSize))
	w := recordio.NewBinaryWriter(buf)
	_, _ = w.WriteRaw(b.transactionID[:])
	_, _ = w.WriteInt64(b.position)
	_, _ = w.WriteInt32(b.size)
	return buf.Bytes()
}

func readBlockHeader(br recordio.BinaryReader) (blockHeader, error) {
	var b blockHeader
	if err := br.ReadRaw(b.transactionID[:]); err != nil {
		return b, fmt.Errorf("error reading block transaction id: %w", err)
	}
	var err error
	if b.position, err = br.ReadInt64(); err != nil {
		return b, fmt.Errorf("error reading block position: %w", err)
	}
	if b.size, err = br.ReadInt32(); err != nil {
		return b, fmt.Errorf("error reading block size: %w", err)
	}
	if b.size < 0 {
		return b, fmt.Errorf("%w: negative block size %d", ErrCorruptLog, b.size)
	}
	return b, nil
}
