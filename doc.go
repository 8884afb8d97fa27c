// Package tmstorage stores any number of independent byte streams inside a
// single medium, with nested transactions over all of them.
//
// The medium is carved into segments. The first block holds the storage
// metadata, the next segment the stream table, and every other segment
// belongs either to a stream or to the free space. A stream is a chain of
// segments linked on disk; growing it takes space from the head of the free
// space and shrinking it gives whole blocks back, merged with their free
// neighbours.
//
// Every mutating call runs in a transaction, either its own or one the caller
// started. Writes are held in memory until commit when buffering is on, and
// an optional log medium keeps pre-images so that a transaction interrupted
// by a crash can be rolled back on the next Open or with Recover.
//
// Basic usage:
//
//	s, err := tmstorage.OpenFile("data.tms", "data.log")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	stream, err := s.CreateStream(tmstorage.NewStreamID(), 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Both writes become durable together, or not at all.
//	if err := s.StartTransaction(); err != nil {
//	    log.Fatal(err)
//	}
//	stream.Write([]byte("header"))
//	stream.Write([]byte("body"))
//	if err := s.CommitTransaction(); err != nil {
//	    log.Fatal(err)
//	}
//
// A Storage and its streams are not safe for concurrent use.
package tmstorage
