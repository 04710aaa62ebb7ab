// Package reader implements the Reader state machine spec.md §4.2
// describes: SLEEPING/CHECK/UPDATE/READ, driven by a Replicator and
// consumed by a downstream parser through the contract in spec §4.5.
//
// Grounded on corereader's SliceReader read/validate loop
// (corereader/slice_reader.go's readBlockData + sliceReader lifecycle) for
// the mutex-guarded cursor discipline, and on corereader/open.go's
// syncReader poll-and-backoff loop for how a producer paces itself against
// a growing file.
package reader

import (
	"fmt"
	"sync"
	"time"

	"github.com/redocdc/core/libraries/blockio"
	"github.com/redocdc/core/libraries/logger"
	"github.com/redocdc/core/libraries/metrics"
	"github.com/redocdc/core/libraries/redolog"
	"github.com/redocdc/core/libraries/redotypes"
	"github.com/redocdc/core/libraries/ring"
)

// State is one of the four reader states (spec §4.2).
type State int

const (
	Sleeping State = iota
	Check
	Update
	Read
)

func (s State) String() string {
	switch s {
	case Sleeping:
		return "SLEEPING"
	case Check:
		return "CHECK"
	case Update:
		return "UPDATE"
	case Read:
		return "READ"
	default:
		return "UNKNOWN"
	}
}

// Config carries the tunables spec §6 names under source.reader.*.
type Config struct {
	RedoReadSleep     time.Duration
	RedoVerifyDelay   time.Duration
	ArchReadTries     int
	ArchReadSleep     time.Duration
	DisableChecksum   bool
	ChunkSize         int // M, typical 1 MiB
	MaxChunks         int // C
	BufferSizeMax     int64
	RedoCopyPath      string
}

func DefaultConfig() Config {
	const mib = 1 << 20
	return Config{
		RedoReadSleep:   200 * time.Millisecond,
		RedoVerifyDelay: 0,
		ArchReadTries:   5,
		ArchReadSleep:   time.Second,
		ChunkSize:       mib,
		MaxChunks:       16,
		BufferSizeMax:   16 * mib,
	}
}

type heldBlock struct {
	stampedAt time.Time
}

// Reader owns one log-file descriptor and the ring it fills. Only the
// Replicator drives state transitions (CheckRedoLog/UpdateRedoLog/
// SetStatusRead); only the downstream parser consumes bytes.
type Reader struct {
	cfg     Config
	backend blockio.Backend
	group   redotypes.Group

	mu        sync.Mutex
	stateCond *sync.Cond
	state     State
	requested State
	hardStop  bool
	softStop  bool

	logFile *redolog.LogFile
	ringBuf *ring.Ring
	ret     redotypes.RedoCode
	errMsg  string

	fileSize   int64
	lastRead   int
	reachedZero bool

	held   map[redotypes.FileOffset]heldBlock
	heldMu sync.Mutex

	copyFile *copyTee

	done chan struct{}
}

// New constructs a Reader for the given group (0 = archived). Call Start
// once to launch its background state-machine loop.
func New(backend blockio.Backend, group redotypes.Group, cfg Config) *Reader {
	r := &Reader{
		cfg:     cfg,
		backend: backend,
		group:   group,
		ringBuf: ring.New(cfg.ChunkSize, cfg.MaxChunks, cfg.BufferSizeMax),
		held:    make(map[redotypes.FileOffset]heldBlock),
		done:    make(chan struct{}),
	}
	r.stateCond = sync.NewCond(&r.mu)
	if cfg.RedoCopyPath != "" {
		r.copyFile = newCopyTee(cfg.RedoCopyPath)
	}
	return r
}

// Start launches the background goroutine that services state requests.
// Safe to call once per Reader.
func (r *Reader) Start() {
	go r.runLoop()
}

// Ret returns the terminal status code for the current file (spec §3's
// ReaderState.ret).
func (r *Reader) Ret() redotypes.RedoCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ret
}

func (r *Reader) ErrMsg() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// LogFile returns the current file metadata (only meaningful after a
// successful CHECK/UPDATE).
func (r *Reader) LogFile() *redolog.LogFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logFile
}

// Sequence returns the reader's currently-bound sequence, or ZeroSeq if no
// file has been CHECKed yet.
func (r *Reader) Sequence() redotypes.Seq {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logFile == nil {
		return redotypes.ZeroSeq
	}
	return r.logFile.Sequence
}

// Bind associates this reader with a path and a (possibly zero) expected
// sequence, ahead of a CheckRedoLog call.
func (r *Reader) Bind(path string, seq redotypes.Seq) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logFile = &redolog.LogFile{Path: path, Sequence: seq, Group: r.group}
}

// Shutdown requests the reader stop at its next suspension point. hard=true
// additionally abandons any in-flight wait immediately (spec §5).
func (r *Reader) Shutdown(hard bool) {
	r.mu.Lock()
	r.softStop = true
	if hard {
		r.hardStop = true
	}
	r.mu.Unlock()
	r.stateCond.Broadcast()
	r.ringBuf.MarkTerminal()
}

// runLoop is the reader's own thread of control. It exits (closing done)
// once a shutdown has been requested and there's no in-flight state left to
// service — mirroring readerDropAll's "wake, let finish, then join" choice
// not to leave a reader thread running unattended after a shutdown request.
func (r *Reader) runLoop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for r.requested == Sleeping && !r.hardStop && !r.softStop {
			r.stateCond.Wait()
		}
		if r.hardStop || (r.softStop && r.requested == Sleeping) {
			r.state = Sleeping
			if r.hardStop {
				r.ret = redotypes.CodeShutdown
			}
			r.mu.Unlock()
			return
		}
		req := r.requested
		r.state = req
		r.mu.Unlock()

		switch req {
		case Check:
			r.doCheck()
		case Update:
			r.doUpdate()
		case Read:
			r.doRead()
		}

		r.mu.Lock()
		r.state = Sleeping
		if r.requested == req {
			r.requested = Sleeping
		}
		r.mu.Unlock()
		r.stateCond.Broadcast()
		r.ringBuf.MarkTerminal()

		if r.hardStop {
			return
		}
	}
}

// Join blocks until the reader's background goroutine has actually exited,
// or timeout elapses. Call after Shutdown.
func (r *Reader) Join(timeout time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *Reader) requestAndWait(s State) {
	r.mu.Lock()
	r.requested = s
	r.mu.Unlock()
	r.stateCond.Broadcast()

	r.mu.Lock()
	for r.state != Sleeping || r.requested != Sleeping {
		r.stateCond.Wait()
	}
	r.mu.Unlock()
}

// CheckRedoLog enters CHECK and blocks until the reader returns to
// SLEEPING. Returns true iff ret==OK (spec §4.5).
func (r *Reader) CheckRedoLog() bool {
	r.requestAndWait(Check)
	return r.Ret() == redotypes.CodeOK
}

// UpdateRedoLog enters UPDATE; on EMPTY it retries internally after
// RedoReadSleep (the online log may not have grown yet). Returns true iff
// ret==OK.
func (r *Reader) UpdateRedoLog() bool {
	for {
		r.requestAndWait(Update)
		if r.Ret() != redotypes.CodeEmpty {
			return r.Ret() == redotypes.CodeOK
		}
		if r.softStopped() {
			return false
		}
		time.Sleep(r.cfg.RedoReadSleep)
	}
}

// SetStatusRead enters READ. It returns as soon as the transition is
// requested — READ is the long-running producer loop, observed later via
// CheckFinished/Ret.
func (r *Reader) SetStatusRead() {
	r.mu.Lock()
	r.requested = Read
	r.state = Read
	r.mu.Unlock()
	r.stateCond.Broadcast()
}

func (r *Reader) softStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.softStop || r.hardStop
}

// GetBufferStart / GetBufferEnd sample the current window (spec §4.5).
func (r *Reader) GetBufferStart() redotypes.FileOffset { return r.ringBuf.BufferStart() }
func (r *Reader) GetBufferEnd() redotypes.FileOffset   { return r.ringBuf.BufferEnd() }

// ConfirmReadData advances bufferStart, freeing chunks behind it and
// waking a producer blocked on a full ring.
func (r *Reader) ConfirmReadData(offset redotypes.FileOffset) {
	r.ringBuf.ConfirmRead(offset)
	r.heldMu.Lock()
	for off := range r.held {
		if off < offset {
			delete(r.held, off)
		}
	}
	r.heldMu.Unlock()
	if r.group == redotypes.ArchivedGroup {
		metrics.FileOffsetCurrent.Set(float64(offset))
	}
	r.reportRingBufferBytes()
}

// groupLabel renders the reader's group as a metric label: "archived" for
// the archived-log reader, else its numeric online group id.
func (r *Reader) groupLabel() string {
	if r.group == redotypes.ArchivedGroup {
		return "archived"
	}
	return fmt.Sprintf("%d", r.group)
}

// ReadInto copies published bytes out of the ring (the parser's view of
// [bufferStart, bufferEnd)).
func (r *Reader) ReadInto(dst []byte, offset redotypes.FileOffset) int {
	return r.ringBuf.ReadAt(dst, offset)
}

// CheckFinished returns true iff offset==bufferEnd and the reader has
// reached a terminal ret or is SLEEPING; otherwise it blocks until new
// data arrives or a terminal state is posted (spec §4.5).
func (r *Reader) CheckFinished(offset redotypes.FileOffset) bool {
	for {
		end := r.ringBuf.WaitForData(offset)
		if offset != end {
			return false
		}
		r.mu.Lock()
		terminalOrSleeping := r.ret != redotypes.CodeOK || r.state == Sleeping
		r.mu.Unlock()
		if terminalOrSleeping {
			return true
		}
	}
}

func (r *Reader) setRet(code redotypes.RedoCode, msg string) {
	r.mu.Lock()
	r.ret = code
	r.errMsg = msg
	r.mu.Unlock()
	if msg != "" {
		logger.Printf("reader", "seq=%v group=%d ret=%s: %s", r.Sequence(), r.group, code, msg)
	}
}

// errSrc adapts the Reader's backend to redolog.BlockSource.
type errSrc struct{ r *Reader }

func (s errSrc) ReadAt(dst []byte, offset redotypes.FileOffset) (int, error) {
	return s.r.backend.ReadAt(dst, offset)
}

func (r *Reader) doCheck() {
	lf := r.logFile
	if lf == nil {
		r.setRet(redotypes.CodeErrorBadData, "CHECK requested with no file bound")
		return
	}
	if err := r.backend.Open(lf.Path); err != nil {
		r.setRet(redotypes.CodeErrorRead, err.Error())
		return
	}
	r.reloadAndSetRet(lf, "")
	if r.Ret() == redotypes.CodeOK {
		r.ringBuf.Reset(redotypes.FileOffset(2 * int(lf.BlockSize)))
		r.mu.Lock()
		r.lastRead = 0
		r.mu.Unlock()
	}
}

func (r *Reader) doUpdate() {
	lf := r.logFile
	if lf == nil {
		r.setRet(redotypes.CodeErrorBadData, "UPDATE requested with no file bound")
		return
	}
	r.reloadAndSetRet(lf, "")
	if r.Ret() == redotypes.CodeOK {
		r.ringBuf.Reset(redotypes.FileOffset(2 * int(lf.BlockSize)))
		r.mu.Lock()
		r.lastRead = 0
		r.mu.Unlock()
	}
}

func (r *Reader) reloadAndSetRet(lf *redolog.LogFile, context string) {
	var sleepFn func()
	if r.cfg.RedoReadSleep > 0 {
		sleepFn = func() { time.Sleep(r.cfg.RedoReadSleep) }
	}
	err := lf.ReloadHeader(errSrc{r}, r.cfg.DisableChecksum, sleepFn)
	if err != nil {
		code := redotypes.CodeOf(err)
		if code == redotypes.CodeOK {
			code = redotypes.CodeErrorBadData
		}
		r.setRet(code, fmt.Sprintf("%s%v", context, err))
		return
	}
	r.setRet(redotypes.CodeOK, "")
}
