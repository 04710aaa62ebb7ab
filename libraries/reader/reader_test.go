package reader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redocdc/core/libraries/blockio"
	"github.com/redocdc/core/libraries/redotypes"
)

// writeTestLog builds a minimal valid archived log: block 0 (format
// header), block 1 (identity header), then nBlocks data blocks carrying
// the given sequence. Mirrors libraries/replicator's test fixture.
func writeTestLog(t *testing.T, path string, blockSize int, seq uint32, nBlocks int) {
	t.Helper()
	buf := make([]byte, blockSize*(2+nBlocks))

	buf[0] = 0x00
	buf[1] = 0x22
	putU32(buf[20:], uint32(blockSize))
	copy(buf[28:32], []byte{0x7D, 0x7C, 0x7B, 0x7A})

	b1 := buf[blockSize : 2*blockSize]
	b1[0] = 0x00
	b1[1] = 0x22
	putU32(b1[4:], 1)
	putU32(b1[8:], seq)
	putU32(b1[20:], 0x0B200000)
	putU32(b1[156:], uint32(2+nBlocks))
	putU32(b1[160:], 1)
	putU64(b1[180:], 1000)
	putU64(b1[192:], 2000)
	stampChecksum(b1)

	for i := 0; i < nBlocks; i++ {
		blk := buf[blockSize*(2+i) : blockSize*(3+i)]
		blk[0] = 0x00
		blk[1] = 0x22
		putU32(blk[4:], uint32(i+2))
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

func TestReaderCheckThenReadDrainsAllBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arch_1.dbf")
	writeTestLog(t, path, 512, 1, 4)

	cfg := DefaultConfig()
	cfg.RedoReadSleep = time.Millisecond
	r := New(blockio.NewLocalBackend(), redotypes.ArchivedGroup, cfg)
	r.Start()
	defer r.Shutdown(true)

	r.Bind(path, redotypes.Seq(1))
	if !r.CheckRedoLog() {
		t.Fatalf("CheckRedoLog failed: ret=%v msg=%q", r.Ret(), r.ErrMsg())
	}
	if r.LogFile().NumBlocksHeader != 6 {
		t.Fatalf("NumBlocksHeader = %d, want 6", r.LogFile().NumBlocksHeader)
	}

	r.SetStatusRead()

	offset := r.GetBufferStart()
	var total int
	for {
		finished := r.CheckFinished(offset)
		if end := r.GetBufferEnd(); end > offset {
			total += int(end - offset)
			r.ConfirmReadData(end)
			offset = end
		}
		if finished {
			break
		}
	}

	if total != 4*512 {
		t.Errorf("drained %d bytes, want %d", total, 4*512)
	}
	if r.Ret() != redotypes.CodeFinished {
		t.Errorf("ret = %v, want FINISHED", r.Ret())
	}
}

func TestReaderCheckRejectsWrongSequence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arch_2.dbf")
	writeTestLog(t, path, 512, 2, 1)

	r := New(blockio.NewLocalBackend(), redotypes.ArchivedGroup, DefaultConfig())
	r.Start()
	defer r.Shutdown(true)

	r.Bind(path, redotypes.Seq(99))
	if r.CheckRedoLog() {
		t.Fatalf("expected CheckRedoLog to fail on sequence mismatch, got ret=%v", r.Ret())
	}
	if r.Ret() != redotypes.CodeErrorSequence {
		t.Errorf("ret = %v, want ERROR_SEQUENCE", r.Ret())
	}
}

func TestReaderShutdownStopsReadLoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arch_3.dbf")
	writeTestLog(t, path, 512, 3, 50)

	cfg := DefaultConfig()
	cfg.RedoReadSleep = time.Millisecond
	r := New(blockio.NewLocalBackend(), redotypes.ArchivedGroup, cfg)
	r.Start()

	r.Bind(path, redotypes.Seq(3))
	if !r.CheckRedoLog() {
		t.Fatalf("CheckRedoLog failed: ret=%v", r.Ret())
	}
	r.SetStatusRead()
	r.Shutdown(true)

	deadline := time.After(time.Second)
	for {
		if r.CheckFinished(r.GetBufferStart()) || r.Ret() == redotypes.CodeShutdown || r.Ret() == redotypes.CodeStopped {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("reader did not stop after hard shutdown, ret=%v", r.Ret())
		case <-time.After(time.Millisecond):
		}
	}
}
