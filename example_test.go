package tmstorage_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/davidvella/tmstorage"
)

// ExampleStorage shows streams sharing one file and a transaction that is
// rolled back.
func ExampleStorage() {
	dir, err := os.MkdirTemp("", "tmstorage-*")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer os.RemoveAll(dir)

	s, err := tmstorage.OpenFile(filepath.Join(dir, "data.tms"), filepath.Join(dir, "data.log"))
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		return
	}
	defer s.Close()

	id := tmstorage.NewStreamID()
	stream, err := s.CreateStream(id, 1)
	if err != nil {
		fmt.Printf("Failed to create stream: %v\n", err)
		return
	}
	if _, err := io.WriteString(stream, "committed"); err != nil {
		fmt.Printf("Failed to write: %v\n", err)
		return
	}

	if err := s.StartTransaction(); err != nil {
		fmt.Printf("Failed to start transaction: %v\n", err)
		return
	}
	if _, err := stream.WriteAt([]byte("discarded"), 0); err != nil {
		fmt.Printf("Failed to write: %v\n", err)
		return
	}
	if err := s.RollbackTransaction(); err != nil {
		fmt.Printf("Failed to roll back: %v\n", err)
		return
	}

	data := make([]byte, stream.Length())
	if _, err := stream.ReadAt(data, 0); err != nil {
		fmt.Printf("Failed to read: %v\n", err)
		return
	}
	fmt.Println(string(data))

	tagged, err := s.StreamsWithTag(1)
	if err != nil {
		fmt.Printf("Failed to list streams: %v\n", err)
		return
	}
	fmt.Println(len(tagged))
	// Output:
	// committed
	// 1
}
