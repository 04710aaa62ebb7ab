// Package ring implements the bounded in-memory ring a Reader fills with
// validated blocks while a downstream parser consumes them concurrently
// (spec.md §3's Ring entity and §5's shared-resource policy).
//
// Grounded on corereader's SliceBufferPool/BlockCache
// (corereader/slice_buffer.go) for the bounded, lazily-allocated chunk
// pool idiom, generalized from "cache of immutable finalized slices" to "a
// single producer/consumer ring with a growing valid window."
package ring

import (
	"sync"

	"github.com/redocdc/core/libraries/redotypes"
)

// Ring holds up to maxChunks chunks of chunkSize bytes each. The valid
// range is [bufferStart, bufferEnd) — always <= bufferSizeMax wide — with
// bufferScan (spec invariant 3) allowed to lead bufferEnd while the
// verify-delay path holds recently-read blocks back from publication.
type Ring struct {
	mu        sync.Mutex
	condFull  *sync.Cond // producer waits here when the ring is full
	condData  *sync.Cond // consumer waits here for new data or a terminal state

	chunkSize     int
	maxChunks     int
	bufferSizeMax int64
	chunks        [][]byte

	bufferStart redotypes.FileOffset
	bufferEnd   redotypes.FileOffset
	bufferScan  redotypes.FileOffset

	terminal bool // set once a terminal ret has been posted (spec invariant 4)
}

func New(chunkSize, maxChunks int, bufferSizeMax int64) *Ring {
	r := &Ring{
		chunkSize:     chunkSize,
		maxChunks:     maxChunks,
		bufferSizeMax: bufferSizeMax,
		chunks:        make([][]byte, maxChunks),
	}
	r.condFull = sync.NewCond(&r.mu)
	r.condData = sync.NewCond(&r.mu)
	return r
}

// Reset reassigns the valid window to a single point (used by Reader's
// UPDATE transition, spec §4.2: "reset bufferStart = bufferEnd =
// 2*blockSize, free all chunks").
func (r *Ring) Reset(at redotypes.FileOffset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bufferStart = at
	r.bufferEnd = at
	r.bufferScan = at
	r.terminal = false
	for i := range r.chunks {
		r.chunks[i] = nil
	}
}

func (r *Ring) slotFor(offset redotypes.FileOffset) int {
	chunkIdx := int64(offset) / int64(r.chunkSize)
	return int(chunkIdx % int64(r.maxChunks))
}

func (r *Ring) chunkAt(offset redotypes.FileOffset, alloc bool) []byte {
	slot := r.slotFor(offset)
	if r.chunks[slot] == nil {
		if !alloc {
			return nil
		}
		r.chunks[slot] = make([]byte, r.chunkSize)
	}
	return r.chunks[slot]
}

// WriteAt copies data into the ring at the given absolute file offset,
// allocating chunk slots as needed. It does not move bufferEnd/bufferScan
// — callers do that explicitly once validation has passed, so a failed
// validation never publishes bytes (spec invariant 4).
func (r *Ring) WriteAt(offset redotypes.FileOffset, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := offset
	remaining := data
	for len(remaining) > 0 {
		chunk := r.chunkAt(pos, true)
		within := int64(pos) % int64(r.chunkSize)
		n := copy(chunk[within:], remaining)
		remaining = remaining[n:]
		pos += redotypes.FileOffset(n)
	}
}

// ReadAt copies bytes out of the ring at the given absolute offset into
// dst, returning the number of bytes copied (less than len(dst) only if it
// runs past an unallocated slot).
func (r *Ring) ReadAt(dst []byte, offset redotypes.FileOffset) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := offset
	total := 0
	for total < len(dst) {
		chunk := r.chunkAt(pos, false)
		if chunk == nil {
			break
		}
		within := int64(pos) % int64(r.chunkSize)
		n := copy(dst[total:], chunk[within:])
		if n == 0 {
			break
		}
		total += n
		pos += redotypes.FileOffset(n)
	}
	return total
}

// AdvanceEnd grows the published window and wakes any consumer blocked in
// CheckFinished. Only the producer (Reader) calls this.
func (r *Ring) AdvanceEnd(newEnd redotypes.FileOffset) {
	r.mu.Lock()
	r.bufferEnd = newEnd
	if r.bufferScan < newEnd {
		r.bufferScan = newEnd
	}
	r.mu.Unlock()
	r.condData.Broadcast()
}

// AdvanceScan moves the verify-delay scan cursor ahead of bufferEnd without
// publishing those bytes yet (spec §4.2.3's held-block path).
func (r *Ring) AdvanceScan(newScan redotypes.FileOffset) {
	r.mu.Lock()
	r.bufferScan = newScan
	r.mu.Unlock()
}

// MarkTerminal records that a terminal ret has been set for this file, and
// wakes any blocked consumer so it can observe it.
func (r *Ring) MarkTerminal() {
	r.mu.Lock()
	r.terminal = true
	r.mu.Unlock()
	r.condData.Broadcast()
	r.condFull.Broadcast()
}

// ConfirmRead advances bufferStart to offset, freeing chunk slots strictly
// behind the new start, and wakes a producer blocked on a full ring. Only
// the consumer (parser) calls this.
func (r *Ring) ConfirmRead(offset redotypes.FileOffset) {
	r.mu.Lock()
	if offset > r.bufferStart {
		oldChunkIdx := int64(r.bufferStart) / int64(r.chunkSize)
		newChunkIdx := int64(offset) / int64(r.chunkSize) // chunk still holding `offset` stays live
		for idx := oldChunkIdx; idx < newChunkIdx; idx++ {
			r.chunks[idx%int64(r.maxChunks)] = nil
		}
		r.bufferStart = offset
	}
	r.mu.Unlock()
	r.condFull.Broadcast()
}

func (r *Ring) isFullLocked() bool {
	return int64(r.bufferEnd-r.bufferStart) >= r.bufferSizeMax
}

// IsFull reports whether the published window has reached bufferSizeMax.
func (r *Ring) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isFullLocked()
}

// RoomFor returns how many bytes may still be written before the ring is
// full, i.e. bufferSizeMax - (bufferEnd - bufferStart).
func (r *Ring) RoomFor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.bufferSizeMax - int64(r.bufferEnd-r.bufferStart)
	if room < 0 {
		return 0
	}
	return room
}

// WaitNotFull blocks the producer until the ring has room, a ConfirmRead
// call freed space, or the terminal flag is set. Callers must re-check
// IsFull() after return (spurious wakeups / shutdown races).
func (r *Ring) WaitNotFull() {
	r.mu.Lock()
	for r.isFullLocked() && !r.terminal {
		r.condFull.Wait()
	}
	r.mu.Unlock()
}

// WaitForData blocks until bufferEnd has advanced past after, or the file
// has reached a terminal state — whichever first. It returns the current
// bufferEnd.
func (r *Ring) WaitForData(after redotypes.FileOffset) redotypes.FileOffset {
	r.mu.Lock()
	for r.bufferEnd <= after && !r.terminal {
		r.condData.Wait()
	}
	end := r.bufferEnd
	r.mu.Unlock()
	return end
}

func (r *Ring) BufferStart() redotypes.FileOffset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferStart
}

func (r *Ring) BufferEnd() redotypes.FileOffset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferEnd
}

func (r *Ring) BufferScan() redotypes.FileOffset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferScan
}

// Snapshot returns (bufferStart, bufferEnd, bufferScan) atomically.
func (r *Ring) Snapshot() (start, end, scan redotypes.FileOffset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufferStart, r.bufferEnd, r.bufferScan
}
