// Package replicator drives the reader fleet spec.md §4.4 describes: it
// selects the next sequence, moves between archived and online sources,
// reacts to resetlogs branches, and coordinates checkpointing through
// libraries/checkpoint.
//
// Grounded on actionindex/cmd/actionindex/main.go's top-level run loop
// shape (setup, then a goroutine-driven loop polling a shutdown flag) and
// on bulk_sync.go's mutex-guarded counters for the shutdown/state fields.
package replicator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redocdc/core/libraries/archive"
	"github.com/redocdc/core/libraries/blockio"
	"github.com/redocdc/core/libraries/checkpoint"
	"github.com/redocdc/core/libraries/logger"
	"github.com/redocdc/core/libraries/metrics"
	"github.com/redocdc/core/libraries/reader"
	"github.com/redocdc/core/libraries/redotypes"
)

// OnlineGroup is one online log group's known member paths (spec §4.4's
// "bring up one Reader per online log group").
type OnlineGroup struct {
	ID      redotypes.Group
	Members []string
}

// Config carries the replicator-level tunables spec §6 names.
type Config struct {
	ArchiveOnly     bool
	ArchiveFormat   string
	RecoveryDest    string
	DBContext       string
	ArchiveRoots    []string
	RefreshInterval time.Duration
	ArchReadTries   int
	ArchReadSleep   time.Duration
	StopLogSwitches int // 0 = unlimited

	// StartSequence seeds the sequence a fresh checkpoint begins at. It
	// only takes effect the first time this Metadata is ever positioned
	// (Sequence and FileOffset still zero); a checkpoint that has already
	// advanced past that ignores it, since durable state from a prior run
	// always wins over a configured starting point. Zero means start from
	// sequence zero, same as leaving it unset.
	StartSequence redotypes.Seq

	ReaderConfig reader.Config
	NewBackend   func() blockio.Backend
}

// Replicator owns one source database's reader fleet and its Metadata.
type Replicator struct {
	cfg      Config
	meta     checkpoint.Metadata
	consumer Consumer

	queue       *archive.Queue
	discoverer  *archive.Discoverer
	archiveRdr  *reader.Reader

	online   map[redotypes.Group]*reader.Reader
	groups   []OnlineGroup

	soft   atomic.Bool
	hard   atomic.Bool
	mu     sync.Mutex
	stopRemaining int
}

func New(cfg Config, meta checkpoint.Metadata, groups []OnlineGroup, consumer Consumer) *Replicator {
	if consumer == nil {
		consumer = PassthroughConsumer{}
	}
	r := &Replicator{
		cfg:      cfg,
		meta:     meta,
		consumer: consumer,
		queue:    archive.NewQueue(),
		discoverer: &archive.Discoverer{
			Format:       cfg.ArchiveFormat,
			Roots:        cfg.ArchiveRoots,
			RecoveryDest: cfg.RecoveryDest,
			DBContext:    cfg.DBContext,
		},
		online:        make(map[redotypes.Group]*reader.Reader),
		groups:        groups,
		stopRemaining: cfg.StopLogSwitches,
	}
	r.archiveRdr = reader.New(cfg.NewBackend(), redotypes.ArchivedGroup, cfg.ReaderConfig)
	r.archiveRdr.Start()
	for _, g := range groups {
		rd := reader.New(cfg.NewBackend(), g.ID, cfg.ReaderConfig)
		rd.Start()
		r.online[g.ID] = rd
	}
	return r
}

// Shutdown requests loop exit at the next suspension point; hard=true
// additionally propagates to every owned Reader immediately (spec §5).
func (rp *Replicator) Shutdown(hard bool) {
	rp.soft.Store(true)
	if hard {
		rp.hard.Store(true)
		rp.archiveRdr.Shutdown(true)
		for _, rd := range rp.online {
			rd.Shutdown(true)
		}
	}
}

func (rp *Replicator) shuttingDown() bool {
	return rp.soft.Load() || rp.hard.Load()
}

// shutdownReaders wakes every owned reader and waits for its goroutine to
// actually exit before releasing it, then drops the archive queue's
// pending candidates. Run calls this once on its way out so no reader
// thread or queued discovery outlives the replicator that owns them.
func (rp *Replicator) shutdownReaders() {
	rp.archiveRdr.Shutdown(true)
	for _, rd := range rp.online {
		rd.Shutdown(true)
	}

	const joinTimeout = 5 * time.Second
	if !rp.archiveRdr.Join(joinTimeout) {
		logger.Printf("replicator", "archive reader did not stop within %v", joinTimeout)
	}
	for group, rd := range rp.online {
		if !rd.Join(joinTimeout) {
			logger.Printf("replicator", "online reader group=%d did not stop within %v", group, joinTimeout)
		}
	}

	rp.queue.Clear()
}

// Run brings the fleet up (initialization per spec §4.4) and executes the
// main loop until soft/hard shutdown.
func (rp *Replicator) Run() error {
	if err := rp.initialize(); err != nil {
		return err
	}

	for !rp.shuttingDown() {
		logsProcessed, err := rp.processArchivedRedoLogs()
		if err != nil {
			rp.shutdownReaders()
			return err
		}
		if !rp.continueWithOnline() {
			break
		}
		if !rp.cfg.ArchiveOnly {
			onlineProcessed, err := rp.processOnlineRedoLogs()
			if err != nil {
				rp.shutdownReaders()
				return err
			}
			logsProcessed = logsProcessed || onlineProcessed
		}
		if !logsProcessed {
			time.Sleep(rp.cfg.RefreshInterval)
		}
	}

	logger.Printf("replicator", "shutting down")
	rp.shutdownReaders()
	return nil
}

func (rp *Replicator) initialize() error {
	if ps, ok := rp.meta.(interface{ WaitReady() }); ok {
		ps.WaitReady()
	}

	if err := rp.meta.PositionAt(rp.cfg.StartSequence); err != nil {
		return err
	}

	if !rp.cfg.ArchiveOnly {
		for _, g := range rp.groups {
			rd := rp.online[g.ID]
			opened := false
			for _, path := range g.Members {
				rd.Bind(path, redotypes.ZeroSeq)
				if rd.CheckRedoLog() {
					opened = true
					break
				}
			}
			if !opened {
				return fmt.Errorf("online group %d: no member could be opened", g.ID)
			}
		}
	}
	return nil
}

// continueWithOnline is the standby/role-switch hook (spec §4.4): this
// module has no standby/primary role concept, so it's always true unless
// shutdown has been requested.
func (rp *Replicator) continueWithOnline() bool {
	return !rp.shuttingDown()
}

// processArchivedRedoLogs implements spec §4.4.1.
func (rp *Replicator) processArchivedRedoLogs() (bool, error) {
	processed := false

	for {
		if rp.shuttingDown() {
			return processed, nil
		}

		branched, err := rp.meta.UpdateResetlogs(rp.meta.Load().NextScn)
		if err != nil {
			return processed, fmt.Errorf("updateResetlogs: %w", err)
		}
		if branched {
			metrics.ResetlogsBranchesTotal.Inc()
		}

		st := rp.meta.Load()
		rp.discoverer.Discover(rp.queue, st.Sequence)
		metrics.ArchiveQueueDepth.Set(float64(rp.queue.Len()))

		cand, ok := rp.queue.Peek()
		if !ok {
			if rp.cfg.ArchiveOnly {
				time.Sleep(rp.cfg.ArchReadSleep)
				continue
			}
			return processed, nil
		}

		st = rp.meta.Load()
		if st.Sequence.IsZero() {
			st.Sequence = cand.Sequence
		}

		switch {
		case cand.Sequence < st.Sequence:
			rp.queue.Pop()
			continue
		case cand.Sequence > st.Sequence:
			logger.Printf("replicator", "couldn't find archive log for seq %v, found %v", st.Sequence, cand.Sequence)
			time.Sleep(rp.cfg.ArchReadSleep)
			continue
		}

		rp.queue.Pop()
		code, err := rp.runArchivedFile(cand)
		if err != nil {
			return processed, err
		}
		switch code {
		case redotypes.CodeFinished:
			processed = true
			continue
		case redotypes.CodeStopped:
			return processed, nil
		default:
			return processed, fmt.Errorf("archived seq %v: fatal status %s", cand.Sequence, code)
		}
	}
}

func (rp *Replicator) runArchivedFile(cand archive.Candidate) (redotypes.RedoCode, error) {
	rd := rp.archiveRdr
	rd.Bind(cand.Path, cand.Sequence)

	opened := false
	for try := 0; try < rp.cfg.ArchReadTries; try++ {
		if rd.CheckRedoLog() || rd.UpdateRedoLog() {
			opened = true
			break
		}
		time.Sleep(rp.cfg.ArchReadSleep)
	}
	if !opened {
		return redotypes.CodeErrorRead, fmt.Errorf("archived seq %v: could not open after %d tries", cand.Sequence, rp.cfg.ArchReadTries)
	}

	rd.SetStatusRead()
	code := rp.consumer.DrainUntilTerminal(rd)

	metrics.FilesProcessedTotal.WithLabelValues(code.String(), "0").Inc()

	if code == redotypes.CodeFinished {
		lf := rd.LogFile()
		if err := rp.meta.Advance(checkpoint.FileRange{
			Sequence:  cand.Sequence,
			FirstScn:  lf.FirstScn,
			NextScn:   lf.NextScn,
			Resetlogs: lf.Resetlogs,
		}); err != nil {
			return code, fmt.Errorf("advance metadata: %w", err)
		}
		metrics.SequenceCurrent.Set(float64(cand.Sequence + 1))
	}
	return code, nil
}

// processOnlineRedoLogs implements spec §4.4.2, simplified to a single
// selection pass per call (the outer Run loop re-enters it every
// iteration, which has the same effect as an inner "loop until no
// candidate" when RefreshInterval paces the retries).
func (rp *Replicator) processOnlineRedoLogs() (bool, error) {
	st := rp.meta.Load()
	rd, higher := rp.selectOnlineReader(st)
	if rd == nil {
		if higher {
			return false, nil
		}
		time.Sleep(rp.cfg.ReaderConfig.RedoReadSleep)
		return false, nil
	}

	rd.SetStatusRead()
	code := rp.consumer.DrainUntilTerminal(rd)
	group := rd.LogFile().Group
	metrics.FilesProcessedTotal.WithLabelValues(code.String(), fmt.Sprintf("%d", group)).Inc()

	switch code {
	case redotypes.CodeFinished:
		lf := rd.LogFile()
		if err := rp.meta.Advance(checkpoint.FileRange{
			Sequence:  lf.Sequence,
			FirstScn:  lf.FirstScn,
			NextScn:   lf.NextScn,
			Resetlogs: lf.Resetlogs,
		}); err != nil {
			return true, fmt.Errorf("advance metadata: %w", err)
		}
		metrics.SequenceCurrent.Set(float64(lf.Sequence + 1))
		rp.onLogSwitch()
		return true, nil
	case redotypes.CodeStopped, redotypes.CodeOK:
		return false, nil
	case redotypes.CodeOverwritten:
		logger.Printf("replicator", "group %d overwritten past our position, falling back to archived", group)
		return false, nil
	default:
		return false, fmt.Errorf("online group %d: fatal status %s", group, code)
	}
}

// selectOnlineReader picks the reader whose bound sequence equals
// metadata.sequence and that still has unconsumed room, tracking whether
// any reader already holds a strictly higher sequence.
func (rp *Replicator) selectOnlineReader(st checkpoint.State) (*reader.Reader, bool) {
	higher := false
	for _, rd := range rp.online {
		seq := rd.Sequence()
		if seq > st.Sequence {
			higher = true
			continue
		}
		if seq != st.Sequence {
			continue
		}
		lf := rd.LogFile()
		if lf.NumBlocksHeader == 0 || redotypes.FileOffset(lf.NumBlocksHeader)*redotypes.FileOffset(lf.BlockSize) > st.FileOffset {
			return rd, higher
		}
	}
	return nil, higher
}

func (rp *Replicator) onLogSwitch() {
	if rp.cfg.StopLogSwitches <= 0 {
		return
	}
	rp.mu.Lock()
	rp.stopRemaining--
	remaining := rp.stopRemaining
	rp.mu.Unlock()
	if remaining <= 0 {
		logger.Printf("replicator", "stop-log-switches count reached, requesting soft shutdown")
		rp.Shutdown(false)
	}
}
