package reader

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestCopyTeeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redocopy.bin")
	tee := newCopyTee(path)

	blocks := [][]byte{
		bytes.Repeat([]byte{0x01}, 512),
		bytes.Repeat([]byte{0x02}, 512),
		[]byte("short block"),
	}
	for _, b := range blocks {
		tee.Write(b)
	}
	if err := tee.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadCopyFile(path)
	if err != nil {
		t.Fatalf("ReadCopyFile: %v", err)
	}
	if len(got) != len(blocks) {
		t.Fatalf("got %d blocks, want %d", len(got), len(blocks))
	}
	for i := range blocks {
		if !bytes.Equal(got[i], blocks[i]) {
			t.Errorf("block %d mismatch: got %x want %x", i, got[i], blocks[i])
		}
	}
}

func TestCopyTeeDisabledOnBadPath(t *testing.T) {
	tee := newCopyTee(filepath.Join(t.TempDir(), "missing-dir", "redocopy.bin"))
	tee.Write([]byte("dropped"))
	if !tee.disabled {
		t.Fatal("expected copyTee to disable itself after an open failure")
	}
}
