package checkpoint

import (
	"sync"

	"github.com/cockroachdb/pebble/v2"

	"github.com/redocdc/core/libraries/logger"
	"github.com/redocdc/core/libraries/redotypes"
)

const stateKey = "checkpoint/state"

// PebbleStore is the durable Metadata backed by an embedded pebble.DB
// (spec §6's checkpoint store), one instance per source database, each
// pointed at its own directory.
//
// Grounded on actionindex/internal/bulk_sync.go's db-plus-mutex-guarded-
// in-memory-view shape: every mutation updates memStore first, then
// persists the whole State as one jsoniter-encoded record — the state is
// small (a handful of scalars plus a short incarnation list), so unlike
// actionindex's per-account chunk index there's no batching concern.
type PebbleStore struct {
	db    *pebble.DB
	mem   memStore
	ready chan struct{}
	once  sync.Once
}

// OpenPebbleStore opens (or creates) the pebble database at dir and loads
// any previously persisted state.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &PebbleStore{db: db, ready: make(chan struct{})}

	if val, closer, err := db.Get([]byte(stateKey)); err == nil {
		st, decErr := decodeState(val)
		closer.Close()
		if decErr != nil {
			db.Close()
			return nil, decErr
		}
		s.mem.state = st
		logger.Printf("checkpoint", "loaded checkpoint: sequence=%v resetlogs=%v nextScn=%v", st.Sequence, st.Resetlogs, st.NextScn)
	} else if err != pebble.ErrNotFound {
		db.Close()
		return nil, err
	}

	return s, nil
}

// MarkReady signals the writer-ready rendezvous spec §4.4 requires before a
// Replicator brings up its online Readers.
func (s *PebbleStore) MarkReady() {
	s.once.Do(func() { close(s.ready) })
}

// WaitReady blocks until MarkReady has been called.
func (s *PebbleStore) WaitReady() {
	<-s.ready
}

func (s *PebbleStore) Load() State {
	return s.mem.snapshot()
}

func (s *PebbleStore) persist(st State) error {
	enc, err := encodeState(st)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(stateKey), enc, pebble.Sync)
}

func (s *PebbleStore) Advance(fr FileRange) error {
	st := s.mem.advance(fr)
	if err := s.persist(st); err != nil {
		return err
	}
	logger.Printf("checkpoint", "advanced: sequence=%v nextScn=%v", st.Sequence, st.NextScn)
	return nil
}

func (s *PebbleStore) SetFileOffset(off redotypes.FileOffset) error {
	st := s.mem.setFileOffset(off)
	return s.persist(st)
}

func (s *PebbleStore) UpdateResetlogs(observedNextScn redotypes.Scn) (bool, error) {
	st, branched, err := s.mem.updateResetlogs(observedNextScn)
	if err != nil {
		return false, err
	}
	if branched {
		if perr := s.persist(st); perr != nil {
			return false, perr
		}
		logger.Printf("checkpoint", "resetlogs branch: now resetlogs=%v sequence=0 fileOffset=0", st.Resetlogs)
	}
	return branched, nil
}

func (s *PebbleStore) ReplaceIncarnations(incs []Incarnation) error {
	st := s.mem.replaceIncarnations(incs)
	return s.persist(st)
}

func (s *PebbleStore) PositionAt(seq redotypes.Seq) error {
	st := s.mem.positionAt(seq)
	return s.persist(st)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

var _ Metadata = (*PebbleStore)(nil)
