package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/redocdc/core/libraries/redotypes"
)

func TestPebbleStoreAdvancePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPebbleStore(filepath.Join(dir, "cp"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Advance(FileRange{Sequence: 100, FirstScn: 1000, NextScn: 2000}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	st := s.Load()
	if st.Sequence != 101 {
		t.Errorf("sequence = %v, want 101", st.Sequence)
	}
	if st.FileOffset != 0 {
		t.Errorf("fileOffset = %v, want 0", st.FileOffset)
	}
	if st.NextScn != redotypes.Scn(2000) {
		t.Errorf("nextScn = %v, want 2000", st.NextScn)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenPebbleStore(filepath.Join(dir, "cp"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if got := s2.Load().Sequence; got != 101 {
		t.Errorf("reloaded sequence = %v, want 101", got)
	}
}

func TestUpdateResetlogsBranch(t *testing.T) {
	initial := State{
		Sequence:  5,
		Resetlogs: 1,
		Incarnations: []Incarnation{
			{ID: 1, Resetlogs: 1, PriorIncarnation: 0},
			{ID: 2, Resetlogs: 2, PriorIncarnation: 1, ResetlogsScn: 500},
		},
	}
	m := NewFakeMetadata(initial)

	branched, err := m.UpdateResetlogs(redotypes.Scn(123))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if branched {
		t.Fatalf("expected no branch at scn 123")
	}

	branched, err = m.UpdateResetlogs(redotypes.Scn(500))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !branched {
		t.Fatalf("expected branch at scn 500")
	}
	st := m.Load()
	if st.Resetlogs != 2 {
		t.Errorf("resetlogs = %v, want 2", st.Resetlogs)
	}
	if st.Sequence != redotypes.ZeroSeq {
		t.Errorf("sequence = %v, want zero", st.Sequence)
	}
}

func TestUpdateResetlogsNotFound(t *testing.T) {
	initial := State{
		Resetlogs: 99,
		Incarnations: []Incarnation{
			{ID: 1, Resetlogs: 1},
		},
	}
	m := NewFakeMetadata(initial)
	if _, err := m.UpdateResetlogs(redotypes.Scn(1)); err != ErrResetlogsNotFound {
		t.Errorf("err = %v, want ErrResetlogsNotFound", err)
	}
}

func TestUpdateResetlogsBootstrapEmpty(t *testing.T) {
	m := NewFakeMetadata(State{})
	branched, err := m.UpdateResetlogs(redotypes.Scn(1))
	if err != nil || branched {
		t.Errorf("expected (false, nil) on empty incarnation list, got (%v, %v)", branched, err)
	}
}
