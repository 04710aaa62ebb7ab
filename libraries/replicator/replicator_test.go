package replicator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redocdc/core/libraries/blockio"
	"github.com/redocdc/core/libraries/checkpoint"
	"github.com/redocdc/core/libraries/reader"
)

// writeArchivedLog builds a minimal valid two-block-plus-data archived log
// at path: block 0 (format header), block 1 (identity header), then
// nBlocks data blocks each carrying the given sequence.
func writeArchivedLog(t *testing.T, path string, blockSize int, seq uint32, nBlocks int) {
	t.Helper()
	buf := make([]byte, blockSize*(2+nBlocks))

	buf[0] = 0x00
	buf[1] = 0x22
	putU32(buf[20:], uint32(blockSize))
	copy(buf[28:32], []byte{0x7D, 0x7C, 0x7B, 0x7A}) // little-endian signature

	b1 := buf[blockSize : 2*blockSize]
	b1[0] = 0x00
	b1[1] = 0x22
	putU32(b1[4:], 1) // block-number field for block 1 itself
	putU32(b1[8:], seq)
	putU32(b1[20:], 0x0B200000) // compat version within allow-list (11.2.x)
	putU32(b1[156:], uint32(2+nBlocks)) // total blocks in file, header included
	putU32(b1[160:], 1)                 // resetlogs
	putU64(b1[180:], 1000)
	putU64(b1[192:], 2000) // nextScn != 0
	stampChecksum(b1)

	for i := 0; i < nBlocks; i++ {
		blk := buf[blockSize*(2+i) : blockSize*(3+i)]
		blk[0] = 0x00
		blk[1] = 0x22
		putU32(blk[4:], uint32(i+2)) // data blocks start at absolute block index 2
		putU32(blk[8:], seq)
		stampChecksum(blk)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func stampChecksum(block []byte) {
	var acc uint64
	for i := 0; i+8 <= len(block); i += 8 {
		var w uint64
		for j := 0; j < 8; j++ {
			w |= uint64(block[i+j]) << (8 * j)
		}
		acc ^= w
	}
	folded := uint32(acc) ^ uint32(acc>>32)
	checksum := uint16(folded) ^ uint16(folded>>16)
	block[14] = byte(checksum)
	block[15] = byte(checksum >> 8)
}

func TestReplicatorProcessesArchivedRollForward(t *testing.T) {
	dir := t.TempDir()
	for seq := 100; seq <= 102; seq++ {
		writeArchivedLog(t, filepath.Join(dir, "arch_"+itoa(seq)+".log"), 512, uint32(seq), 3)
	}

	meta := checkpoint.NewFakeMetadata(checkpoint.State{Sequence: 100})
	cfg := Config{
		ArchiveOnly:     false,
		ArchiveFormat:   "arch_%s.log",
		ArchiveRoots:    []string{dir},
		RefreshInterval: 5 * time.Millisecond,
		ArchReadTries:   3,
		ArchReadSleep:   5 * time.Millisecond,
		ReaderConfig:    reader.DefaultConfig(),
		NewBackend:      func() blockio.Backend { return blockio.NewLocalBackend() },
	}

	rp := New(cfg, meta, nil, nil)
	for i := 0; i < 3; i++ {
		processed, err := rp.processArchivedRedoLogs()
		if err != nil {
			t.Fatalf("processArchivedRedoLogs: %v", err)
		}
		if !processed {
			break
		}
	}

	if got := meta.Load().Sequence; got != 103 {
		t.Errorf("sequence = %v, want 103", got)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
