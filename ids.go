package tmstorage

import "github.com/google/uuid"

// StreamID identifies a stream within a storage.
type StreamID = uuid.UUID

// Identifiers of the system streams. Callers can never use them.
var (
	storageMetadataID = StreamID{15: 1}
	emptySpaceID      = StreamID{15: 2}
	streamTableID     = StreamID{15: 3}
)

// IsReserved reports whether id belongs to a system stream. The nil id
// marks free table slots and is reserved as well.
func IsReserved(id StreamID) bool {
	return id == uuid.Nil || id == storageMetadataID || id == emptySpaceID || id == streamTableID
}

// NewStreamID returns a random stream id.
func NewStreamID() StreamID {
	return uuid.New()
}
