// Package wal implements an undo log for a storage.Medium.
//
// A Log wraps a master medium and a separate log medium. While a transaction
// is active, every region of the master that is about to be overwritten or cut
// off by Truncate is first copied into the log. Regions are backed up once per
// transaction, rounded outward to the block size. Regions passed to Begin as
// exempt (free space and everything past the current end of the master) are
// never backed up.
//
// Log format:
//   - Header (33 bytes): transaction id (16) · original master length (8) ·
//     block count (8) · completed flag (1)
//   - Blocks: transaction id (16) · position (8) · size (4) · data (size)
//
// The header is rewritten after every block so a crash leaves a log that
// describes exactly the blocks it holds. A log whose header is not marked
// completed means the previous transaction was interrupted; such a Log
// refuses all I/O until Rollback restores the master.
//
// Basic usage:
//
//	l, err := wal.Open(master, logMedium, 512)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := l.Begin(nil); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := l.WriteAt(data, 4096); err != nil {
//	    // restore the master to its state at Begin
//	    _ = l.Rollback()
//	}
//	if err := l.End(); err != nil {
//	    log.Fatal(err)
//	}
package wal
