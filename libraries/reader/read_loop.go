package reader

import (
	"time"

	"github.com/redocdc/core/libraries/metrics"
	"github.com/redocdc/core/libraries/redolog"
	"github.com/redocdc/core/libraries/redotypes"
)

// doRead runs the READ state's producer loop: grow the read size from one
// block up to cfg.ChunkSize, validate each block read, publish it (or hold
// it for RedoVerifyDelay first), and stop on any terminal condition (spec
// §4.2.3/§4.2.4).
func (r *Reader) doRead() {
	lf := r.logFile
	blockSize := int(lf.BlockSize)
	if blockSize == 0 {
		r.setRet(redotypes.CodeErrorBadData, "READ requested before header was parsed")
		return
	}

	r.mu.Lock()
	readSize := blockSize
	if r.lastRead > 0 {
		readSize = r.lastRead
	}
	r.mu.Unlock()

	expectedBlock := redotypes.Blk(r.ringBuf.BufferScan()) / redotypes.Blk(blockSize)

readLoop:
	for {
		if r.softStopped() {
			r.setRet(redotypes.CodeStopped, "")
			return
		}

		offset := r.ringBuf.BufferScan()

		r.ringBuf.WaitNotFull()
		if r.softStopped() {
			r.setRet(redotypes.CodeStopped, "")
			return
		}

		buf := make([]byte, readSize)
		n, err := r.backend.ReadAt(buf, offset)
		if err != nil {
			r.setRet(redotypes.CodeErrorRead, err.Error())
			return
		}

		if n < blockSize {
			knownEnd := lf.NumBlocksHeader > 0 && uint32(offset)/uint32(blockSize) >= lf.NumBlocksHeader
			if r.group == redotypes.ArchivedGroup || r.backendAppendClosed() || knownEnd {
				code := redotypes.CodeStopped
				if !lf.NextScn.IsNone() {
					code = redotypes.CodeFinished
				}
				r.promoteAll()
				r.setRet(code, "")
				return
			}
			// Online log hasn't grown past this point yet.
			r.waitForGrowth()
			continue
		}

		nBlocks := n / blockSize
		goodBlocks := 0
		for i := 0; i < nBlocks; i++ {
			block := buf[i*blockSize : (i+1)*blockSize]
			res := redolog.CheckBlockHeader(block, lf.BlockSize, expectedBlock, lf.Group, lf.Sequence, i == 0 && expectedBlock == 0, lf.Endian, r.cfg.DisableChecksum)

			switch res.Code {
			case redotypes.CodeOK:
				r.publish(offset+redotypes.FileOffset(i*blockSize), block)
				expectedBlock++
			case redotypes.CodeEmpty:
				if r.group != redotypes.ArchivedGroup {
					// Nothing new yet; online file may still be mid-write.
					r.promoteDue()
					r.waitForGrowth()
					continue readLoop
				}
				// Archived file: no more written blocks past here.
				code := redotypes.CodeStopped
				if !lf.NextScn.IsNone() {
					code = redotypes.CodeFinished
				}
				r.promoteAll()
				r.setRet(code, "")
				return
			case redotypes.CodeOverwritten:
				r.setRet(redotypes.CodeOverwritten, "")
				return
			default:
				metrics.BlockErrorsTotal.WithLabelValues(res.Code.String()).Inc()
				r.setRet(res.Code, "block validation failed")
				return
			}
			goodBlocks++
		}

		if goodBlocks == nBlocks {
			readSize = growReadSize(readSize, r.cfg.ChunkSize)
			r.mu.Lock()
			r.lastRead = readSize
			r.mu.Unlock()
		}
		r.promoteDue()
	}
}

func growReadSize(cur, max int) int {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func (r *Reader) backendAppendClosed() bool {
	type appendClosed interface{ IsAppendClosed() bool }
	if ac, ok := r.backend.(appendClosed); ok {
		return ac.IsAppendClosed()
	}
	return false
}

func (r *Reader) waitForGrowth() {
	type waiter interface{ WaitForGrowth(time.Duration) }
	if w, ok := r.backend.(waiter); ok {
		w.WaitForGrowth(r.cfg.RedoReadSleep)
		return
	}
	time.Sleep(r.cfg.RedoReadSleep)
}

// publish writes a validated block into the ring. If RedoVerifyDelay is
// zero the block is published immediately; otherwise it's held until its
// delay elapses, per spec §4.2.3's held-block path.
func (r *Reader) publish(offset redotypes.FileOffset, block []byte) {
	r.ringBuf.WriteAt(offset, block)
	if r.copyFile != nil {
		r.copyFile.Write(block)
	}

	if r.cfg.RedoVerifyDelay <= 0 {
		r.ringBuf.AdvanceEnd(offset + redotypes.FileOffset(len(block)))
		r.reportRingBufferBytes()
		return
	}

	r.heldMu.Lock()
	r.held[offset+redotypes.FileOffset(len(block))] = heldBlock{stampedAt: time.Now()}
	r.heldMu.Unlock()
	r.ringBuf.AdvanceScan(offset + redotypes.FileOffset(len(block)))
}

func (r *Reader) reportRingBufferBytes() {
	start, end, _ := r.ringBuf.Snapshot()
	metrics.RingBufferBytes.WithLabelValues(r.groupLabel()).Set(float64(end - start))
}

// promoteDue advances bufferEnd past any held blocks whose verify delay has
// elapsed, in order, stopping at the first one still pending.
func (r *Reader) promoteDue() {
	if r.cfg.RedoVerifyDelay <= 0 {
		return
	}
	now := time.Now()
	r.heldMu.Lock()
	defer r.heldMu.Unlock()

	for {
		_, end, _ := r.ringBuf.Snapshot()
		hb, ok := r.held[end]
		if !ok {
			return
		}
		if now.Sub(hb.stampedAt) < r.cfg.RedoVerifyDelay {
			return
		}
		delete(r.held, end)
		next := r.nextHeldBoundary(end)
		r.ringBuf.AdvanceEnd(next)
		r.reportRingBufferBytes()
	}
}

func (r *Reader) nextHeldBoundary(after redotypes.FileOffset) redotypes.FileOffset {
	best := redotypes.FileOffset(0)
	found := false
	for off := range r.held {
		if off > after && (!found || off < best) {
			best = off
			found = true
		}
	}
	if !found {
		_, _, scan := r.ringBuf.Snapshot()
		return scan
	}
	return best
}

// promoteAll force-publishes every still-held block (used once a file has
// reached a terminal STOPPED/FINISHED state: nothing more will overwrite them).
func (r *Reader) promoteAll() {
	_, _, scan := r.ringBuf.Snapshot()
	r.heldMu.Lock()
	r.held = make(map[redotypes.FileOffset]heldBlock)
	r.heldMu.Unlock()
	r.ringBuf.AdvanceEnd(scan)
	r.reportRingBufferBytes()
}
