package tmstorage

import "errors"

var (
	ErrInvalidStreamID             = errors.New("tmstorage: stream id is reserved for system streams")
	ErrStreamExists                = errors.New("tmstorage: stream already exists")
	ErrStreamNotFound              = errors.New("tmstorage: stream not found")
	ErrStorageClosed               = errors.New("tmstorage: storage is closed")
	ErrStreamClosed                = errors.New("tmstorage: stream is closed")
	ErrStorageCorrupt              = errors.New("tmstorage: storage is corrupt")
	ErrWritingOutsideOfTransaction = errors.New("tmstorage: writing outside of transaction")
	ErrUnableToOpenStorage         = errors.New("tmstorage: unable to open storage")
	ErrTransactionPending          = errors.New("tmstorage: unable to close storage while transaction is pending")
	ErrInvariant                   = errors.New("tmstorage: at the beginning of a transaction there should be no changed streams")

	ErrInvalidBlockSize    = errors.New("tmstorage: block size must be a positive multiple of 512")
	ErrInvalidTableEntries = errors.New("tmstorage: initial table entries must be positive")
	ErrVersionTooLong      = errors.New("tmstorage: version does not fit in the metadata segment")
	ErrNegativePosition    = errors.New("tmstorage: negative stream position")
	ErrNegativeLength      = errors.New("tmstorage: negative stream length")
	ErrOutOfSpace          = errors.New("tmstorage: no free space left")
)
