package blockio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/redocdc/core/libraries/redotypes"
)

func TestLocalBackendReadAtPastEOFReturnsZeroNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.dbf")
	if err := os.WriteFile(path, []byte("abcdefgh"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewLocalBackend()
	if err := b.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	dst := make([]byte, 16)
	n, err := b.ReadAt(dst, redotypes.FileOffset(4))
	if err != nil {
		t.Fatalf("ReadAt: unexpected error %v", err)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}

	n, err = b.ReadAt(dst, redotypes.FileOffset(100))
	if err != nil {
		t.Fatalf("ReadAt past EOF: unexpected error %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0 past EOF", n)
	}
}

func TestLocalBackendSizeReflectsGrowth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.dbf")
	if err := os.WriteFile(path, []byte("1234"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewLocalBackend()
	if err := b.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	sz, err := b.Size()
	if err != nil || sz != 4 {
		t.Fatalf("Size = %d, %v; want 4, nil", sz, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("5678")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	sz, err = b.Size()
	if err != nil || sz != 8 {
		t.Fatalf("Size after growth = %d, %v; want 8, nil", sz, err)
	}
}

func TestLocalBackendIsAppendClosedFalse(t *testing.T) {
	b := NewLocalBackend()
	if b.IsAppendClosed() {
		t.Error("LocalBackend must never report append-closed: online logs keep growing")
	}
}

func TestLocalBackendReadAtBeforeOpenErrors(t *testing.T) {
	b := NewLocalBackend()
	_, err := b.ReadAt(make([]byte, 4), 0)
	if err == nil {
		t.Error("expected an error reading before Open")
	}
}
