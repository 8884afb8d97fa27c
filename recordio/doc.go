// Package recordio implements the little-endian binary primitives and the
// integrity hash used by every persisted structure of a storage: segment
// headers, stream table entries, storage metadata and transaction log records.
//
// Basic usage:
//
//	var buf bytes.Buffer
//	bw := recordio.NewBinaryWriter(&buf)
//	if _, err := bw.WriteInt64(size); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := bw.WriteInt32(recordio.Hash(recordio.HashInt64(size))); err != nil {
//	    log.Fatal(err)
//	}
//
//	br := recordio.NewBinaryReader(&buf)
//	size, err := br.ReadInt64()
//
// The hash is a reversible XOR fold of per-field hashes. It detects accidental
// corruption of a record, not deliberate tampering, and is part of the on-disk
// format: changing it requires a format version bump.
package recordio
