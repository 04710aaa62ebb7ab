// Package blockio implements the block I/O backend capability spec.md §4.1
// describes: open a log by name, read size bytes at an absolute offset,
// close. Three variants share the Backend interface — local filesystem,
// ASM-via-shell-pipe, and remote-over-SSH — so the Reader in
// libraries/reader is generic over which one it was handed (spec §9:
// "Deep inheritance of Reader variants ... express as a capability trait
// with three methods").
//
// Grounded on corereader's os.Open + mmap local-file access
// (corereader/slice_reader.go's newSliceReader) for the filesystem variant,
// and generalized to the ASM and SSH variants per spec.
package blockio

import "github.com/redocdc/core/libraries/redotypes"

// Backend is the capability trait a Reader is generic over.
type Backend interface {
	// Open prepares path for reading. For local files this opens the fd;
	// for ASM it drains the remote pipe into memory; for SSH it dials.
	Open(path string) error
	// ReadAt reads up to len(dst) bytes at the given absolute offset.
	// Returns 0 only at true end-of-file (spec §4.1); a filesystem read
	// past the current end of a growing file returns (0, nil), not io.EOF.
	ReadAt(dst []byte, offset redotypes.FileOffset) (int, error)
	// Size reports the backend's current best knowledge of file length.
	Size() (int64, error)
	Close() error
}

// AppendClosed backends (ASM) never grow after Open returns, so a Reader
// must not treat them as candidates for the online log set.
type AppendClosed interface {
	IsAppendClosed() bool
}
