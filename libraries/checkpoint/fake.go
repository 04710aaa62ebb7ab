package checkpoint

import "github.com/redocdc/core/libraries/redotypes"

// FakeMetadata is a pure in-memory Metadata, for tests and for the SQL-level
// bootstrap boundary (spec §2's Non-goals: the bootstrap query itself is out
// of scope, but callers need something satisfying Metadata to exercise the
// Replicator against).
type FakeMetadata struct {
	mem   memStore
	ready chan struct{}
}

func NewFakeMetadata(initial State) *FakeMetadata {
	f := &FakeMetadata{ready: make(chan struct{})}
	f.mem.state = cloneState(initial)
	close(f.ready)
	return f
}

func (f *FakeMetadata) Load() State { return f.mem.snapshot() }

func (f *FakeMetadata) Advance(fr FileRange) error {
	f.mem.advance(fr)
	return nil
}

func (f *FakeMetadata) SetFileOffset(off redotypes.FileOffset) error {
	f.mem.setFileOffset(off)
	return nil
}

func (f *FakeMetadata) UpdateResetlogs(observedNextScn redotypes.Scn) (bool, error) {
	_, branched, err := f.mem.updateResetlogs(observedNextScn)
	return branched, err
}

func (f *FakeMetadata) ReplaceIncarnations(incs []Incarnation) error {
	f.mem.replaceIncarnations(incs)
	return nil
}

func (f *FakeMetadata) PositionAt(seq redotypes.Seq) error {
	f.mem.positionAt(seq)
	return nil
}

func (f *FakeMetadata) Close() error { return nil }

var _ Metadata = (*FakeMetadata)(nil)
