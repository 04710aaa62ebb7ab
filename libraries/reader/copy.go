package reader

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/redocdc/core/libraries/compression"
	"github.com/redocdc/core/libraries/logger"
)

// copyTee mirrors every block a Reader validates to a side file, each block
// zstd-compressed, when source.reader.redoCopyPath is configured. This is
// a diagnostic/replay aid, not part of the replication path proper: a
// failure to write never fails the reader.
//
// Grounded on the teacher's compression package (zstd_cgo.go/zstd_nocgo.go)
// for the codec; frame layout (4-byte little-endian length + payload) is
// new, sized for append-only sequential replay rather than random access.
type copyTee struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	level    int
	disabled bool
}

func newCopyTee(path string) *copyTee {
	return &copyTee{path: path, level: 3}
}

func (c *copyTee) ensureOpen() bool {
	if c.disabled {
		return false
	}
	if c.f != nil {
		return true
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Printf("reader", "redoCopyPath %s unavailable, disabling copy: %v", c.path, err)
		c.disabled = true
		return false
	}
	c.f = f
	return true
}

// Write compresses block and appends a length-prefixed frame. Errors are
// logged and permanently disable further copying rather than propagating,
// since the copy path is best-effort.
func (c *copyTee) Write(block []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ensureOpen() {
		return
	}

	compressed, err := compression.ZstdCompressLevel(nil, block, c.level)
	if err != nil {
		logger.Printf("reader", "redoCopyPath compress failed, disabling copy: %v", err)
		c.disabled = true
		return
	}

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(compressed)))
	if _, err := c.f.Write(hdr[:]); err != nil {
		logger.Printf("reader", "redoCopyPath write failed, disabling copy: %v", err)
		c.disabled = true
		return
	}
	if _, err := c.f.Write(compressed); err != nil {
		logger.Printf("reader", "redoCopyPath write failed, disabling copy: %v", err)
		c.disabled = true
		return
	}
}

func (c *copyTee) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

// ReadCopyFile replays a file written by copyTee, returning the blocks in
// the order they were captured. It's the read side of redoCopyPath: a
// diagnostic dump that's otherwise impossible to inspect, for operators who
// need to re-examine exactly what bytes a Reader validated.
func ReadCopyFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var blocks [][]byte
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		n := binary.LittleEndian.Uint32(hdr[:])
		compressed := make([]byte, n)
		if _, err := io.ReadFull(f, compressed); err != nil {
			return nil, err
		}
		block, err := compression.ZstdDecompress(nil, compressed)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
