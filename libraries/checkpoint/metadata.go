// Package checkpoint is the boundary component spec.md calls Metadata: it
// carries the Replicator's durable position (current sequence, in-file
// offset, per-file SCN range, the active resetlogs id) plus the incarnation
// forest used to detect and follow a resetlogs branch.
//
// Grounded on actionindex/internal/chunk_metadata.go and bulk_sync.go for
// the mutex-guarded in-memory view backed by github.com/cockroachdb/pebble/v2,
// and on chunk_metadata_test.go for how that teacher opens a throwaway
// pebble.DB in tests.
package checkpoint

import (
	"fmt"
	"sync"

	"github.com/redocdc/core/libraries/redotypes"
)

// Incarnation is one node of the branch forest spec §3 describes: {id,
// resetlogs, resetlogsScn, priorIncarnation}.
type Incarnation struct {
	ID               uint32
	Resetlogs        redotypes.Resetlogs
	ResetlogsScn     redotypes.Scn
	PriorIncarnation uint32 // 0 = root, no prior
}

// FileRange records what a fully-processed file contributed to Metadata.
// Advance keeps NextScn and moves Sequence to one past the file's; State has
// no FirstScn field, and FirstScn and Resetlogs are not stored.
type FileRange struct {
	Sequence  redotypes.Seq
	FirstScn  redotypes.Scn
	NextScn   redotypes.Scn
	Resetlogs redotypes.Resetlogs
}

// State is the durable, checkpointed position of one source database.
type State struct {
	Sequence     redotypes.Seq
	FileOffset   redotypes.FileOffset
	Resetlogs    redotypes.Resetlogs
	NextScn      redotypes.Scn
	Incarnations []Incarnation
}

var ErrResetlogsNotFound = fmt.Errorf("resetlogs not found")

// Metadata is the interface a Replicator drives; it owns the checkpoint
// mutex spec §5 names ("Metadata (checkpoint, incarnation list, sequence,
// fileOffset): owned by Metadata; any cross-thread write takes Metadata's
// checkpoint mutex").
type Metadata interface {
	// Load returns the current durable state. It does not wait for the
	// writer-ready rendezvous; a Replicator waits for that itself through
	// WaitReady when the store provides one.
	Load() State

	// Advance records that a file completed with FINISHED, folding its
	// range into the checkpoint: sequence++, fileOffset reset, nextScn
	// updated (spec invariant 4 and §9's serialized-advancement rule).
	Advance(fr FileRange) error

	// SetFileOffset updates the in-flight offset within the current
	// sequence without completing it, for crash-consistent resume mid-file.
	SetFileOffset(off redotypes.FileOffset) error

	// UpdateResetlogs implements spec §4.3's branch-detection algorithm:
	// locate the incarnation whose Resetlogs equals the current
	// metadata.resetlogs, then look for a child that branches at the
	// just-observed nextScn. On a branch it atomically sets
	// metadata.resetlogs, resets sequence and fileOffset to zero, and
	// returns true.
	UpdateResetlogs(observedNextScn redotypes.Scn) (branched bool, err error)

	// ReplaceIncarnations installs a freshly bootstrapped incarnation list
	// (from the SQL-level metadata bootstrap, out of this module's scope —
	// spec §2's Non-goals — and supplied by the caller).
	ReplaceIncarnations(incarnations []Incarnation) error

	// PositionAt seeds the sequence a never-advanced checkpoint should
	// start at. A checkpoint that has already advanced past its zero state
	// ignores this: durable state from a prior run always wins over a
	// configured starting position.
	PositionAt(seq redotypes.Seq) error

	// Close releases the underlying store.
	Close() error
}

// memStore is the in-memory half shared by every Metadata implementation:
// pebble-backed persistence wraps this, a pure test fake uses it directly.
type memStore struct {
	mu    sync.Mutex
	state State
}

func (m *memStore) snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.state)
}

func cloneState(s State) State {
	out := s
	out.Incarnations = append([]Incarnation(nil), s.Incarnations...)
	return out
}

func (m *memStore) advance(fr FileRange) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Sequence = fr.Sequence + 1
	m.state.FileOffset = 0
	m.state.NextScn = fr.NextScn
	return cloneState(m.state)
}

func (m *memStore) setFileOffset(off redotypes.FileOffset) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.FileOffset = off
	return cloneState(m.state)
}

func (m *memStore) replaceIncarnations(incs []Incarnation) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Incarnations = append([]Incarnation(nil), incs...)
	return cloneState(m.state)
}

func (m *memStore) positionAt(seq redotypes.Seq) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Sequence == redotypes.ZeroSeq && m.state.FileOffset == 0 {
		m.state.Sequence = seq
	}
	return cloneState(m.state)
}

// updateResetlogsLocked implements the branch-detection algorithm against
// s, updating it in place, and returns (branched, err). Called with m.mu
// held by the caller's wrapper.
func updateResetlogsLocked(s *State, observedNextScn redotypes.Scn) (bool, error) {
	if len(s.Incarnations) == 0 {
		return false, nil // bootstrap: nothing to branch from yet
	}

	var current *Incarnation
	for i := range s.Incarnations {
		if s.Incarnations[i].Resetlogs == s.Resetlogs {
			current = &s.Incarnations[i]
			break
		}
	}
	if current == nil {
		return false, ErrResetlogsNotFound
	}

	for i := range s.Incarnations {
		cand := &s.Incarnations[i]
		if cand.PriorIncarnation == current.ID && cand.ResetlogsScn == observedNextScn {
			s.Resetlogs = cand.Resetlogs
			s.Sequence = redotypes.ZeroSeq
			s.FileOffset = 0
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) updateResetlogs(observedNextScn redotypes.Scn) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	branched, err := updateResetlogsLocked(&m.state, observedNextScn)
	return cloneState(m.state), branched, err
}
