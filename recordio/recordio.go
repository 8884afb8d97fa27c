package recordio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	Uint64Size = int64(binary.Size(uint64(0)))
	Int64Size  = int64(binary.Size(int64(0)))
	Int32Size  = int64(binary.Size(int32(0)))
	BoolSize   = int64(binary.Size(false))
	// ErrChecksum is returned when a stored hash does not match the recomputed one.
	ErrChecksum = errors.New("recordio: checksum mismatch")
	// ErrStringTooLong guards against reading garbage length prefixes.
	ErrStringTooLong = errors.New("recordio: string length exceeds limit")
)

// MaxStringSize bounds length-prefixed strings and byte slices read back from a medium.
const MaxStringSize = 1 << 20

// BinaryWriter handles writing binary data with error handling.
type BinaryWriter struct {
	w io.Writer
}

func NewBinaryWriter(w io.Writer) BinaryWriter {
	return BinaryWriter{w: w}
}

func (bw BinaryWriter) WriteString(s string) (int64, error) {
	// Write string length (uint64)
	if err := binary.Write(bw.w, binary.LittleEndian, uint64(len(s))); err != nil {
		return 0, fmt.Errorf("error writing string length: %w", err)
	}

	// Write string content
	n, err := bw.w.Write([]byte(s))
	if err != nil {
		return Uint64Size, fmt.Errorf("error writing string content: %w", err)
	}

	// Return total bytes written (length field + string content)
	return Uint64Size + int64(n), nil
}

func (bw BinaryWriter) WriteInt64(i int64) (int64, error) {
	err := binary.Write(bw.w, binary.LittleEndian, i)
	if err != nil {
		return 0, err
	}
	return Int64Size, nil
}

func (bw BinaryWriter) WriteInt32(i int32) (int64, error) {
	err := binary.Write(bw.w, binary.LittleEndian, i)
	if err != nil {
		return 0, err
	}
	return Int32Size, nil
}

func (bw BinaryWriter) WriteBool(b bool) (int64, error) {
	err := binary.Write(bw.w, binary.LittleEndian, b)
	if err != nil {
		return 0, err
	}
	return BoolSize, nil
}

// WriteRaw writes b without a length prefix. Used for fixed-size fields such as identifiers.
func (bw BinaryWriter) WriteRaw(b []byte) (int64, error) {
	n, err := bw.w.Write(b)
	return int64(n), err
}

func (bw BinaryWriter) WriteBytes(b []byte) (int64, error) {
	// Write bytes length (uint64)
	if err := binary.Write(bw.w, binary.LittleEndian, uint64(len(b))); err != nil {
		return 0, fmt.Errorf("error writing bytes length: %w", err)
	}

	// Write bytes content
	n, err := bw.w.Write(b)
	if err != nil {
		return Uint64Size, fmt.Errorf("error writing bytes content: %w", err)
	}

	// Return total bytes written (length field + bytes content)
	return Uint64Size + int64(n), nil
}

// BinaryReader handles reading binary data with error handling.
type BinaryReader struct {
	r io.Reader
}

func NewBinaryReader(r io.Reader) BinaryReader {
	return BinaryReader{r: r}
}

func (br BinaryReader) ReadString() (string, error) {
	var length uint64
	if err := binary.Read(br.r, binary.LittleEndian, &length); err != nil {
		return "", fmt.Errorf("error reading string length: %w", err)
	}
	if length > MaxStringSize {
		return "", ErrStringTooLong
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(br.r, b); err != nil {
		return "", fmt.Errorf("error reading string content: %w", err)
	}
	return string(b), nil
}

func (br BinaryReader) ReadInt64() (int64, error) {
	var value int64
	err := binary.Read(br.r, binary.LittleEndian, &value)
	return value, err
}

func (br BinaryReader) ReadInt32() (int32, error) {
	var value int32
	err := binary.Read(br.r, binary.LittleEndian, &value)
	return value, err
}

func (br BinaryReader) ReadBool() (bool, error) {
	var value bool
	err := binary.Read(br.r, binary.LittleEndian, &value)
	return value, err
}

// ReadRaw fills b completely.
func (br BinaryReader) ReadRaw(b []byte) error {
	_, err := io.ReadFull(br.r, b)
	return err
}

func (br BinaryReader) ReadBytes() ([]byte, error) {
	var length uint64
	if err := binary.Read(br.r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("error reading bytes length: %w", err)
	}
	if length > MaxStringSize {
		return nil, ErrStringTooLong
	}

	bytes := make([]byte, length)
	if _, err := io.ReadFull(br.r, bytes); err != nil {
		return nil, fmt.Errorf("error reading bytes content: %w", err)
	}
	return bytes, nil
}
