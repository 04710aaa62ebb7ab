package redolog

import (
	"fmt"

	"github.com/redocdc/core/libraries/redotypes"
)

// BlockSource is the minimal read capability reloadHeader needs; satisfied
// by libraries/blockio.Backend.
type BlockSource interface {
	ReadAt(dst []byte, offset redotypes.FileOffset) (int, error)
}

// BadCdcMaxCnt bounds CRC-retry attempts while reloading a header (spec
// §4.2.1).
const BadCdcMaxCnt = 5

// LogFile is the identity and parsed metadata of one redo log file (spec
// §3's LogFile entity).
type LogFile struct {
	Path     string
	Sequence redotypes.Seq
	Group    redotypes.Group

	BlockSize       redotypes.BlockSize
	Endian          redotypes.Endian
	NumBlocksHeader uint32 // 0 = unknown (still-growing online log)
	FirstScn        redotypes.Scn
	NextScn         redotypes.Scn
	Resetlogs       redotypes.Resetlogs
	Activation      redotypes.Activation
	CompatVersion   uint32
	SID             string

	endianLocked bool
}

// ReloadHeader re-reads blocks 0 and 1 of src and (re)populates lf's parsed
// fields, per spec §4.2.1. sleepFn is called between CRC retries (normally
// time.Sleep bound to redoReadSleepUs); pass nil to disable the pause (used
// by tests).
func (lf *LogFile) ReloadHeader(src BlockSource, disableChecksum bool, sleepFn func()) error {
	// Only the first Block0Size (32) bytes of block 0 are read: that header
	// region is the same for all three valid block sizes and tells us the
	// real block size before reading block 1.
	probe := make([]byte, Block0Size)
	if _, err := src.ReadAt(probe, 0); err != nil {
		return fmt.Errorf("reading block 0: %w", err)
	}

	b0, err := ParseBlock0(probe)
	if err != nil {
		return err
	}

	if !lf.endianLocked {
		lf.Endian = b0.Endian
		lf.endianLocked = true
	}
	lf.BlockSize = b0.BlockSize

	block1 := make([]byte, lf.BlockSize)
	var b1 Block1Header
	var lastErr error
	for attempt := 0; attempt < BadCdcMaxCnt; attempt++ {
		if _, err := src.ReadAt(block1, redotypes.FileOffset(lf.BlockSize)); err != nil {
			return fmt.Errorf("reading block 1: %w", err)
		}

		res := CheckBlockHeader(block1, lf.BlockSize, 1, lf.Group, lf.Sequence, lf.Sequence.IsZero(), lf.Endian, disableChecksum)
		if res.Code == redotypes.CodeOK {
			b1, lastErr = ParseBlock1(block1, lf.Endian)
			if lastErr == nil {
				break
			}
		} else if res.Code == redotypes.CodeErrorCRC {
			lastErr = redotypes.NewRedoError(redotypes.CodeErrorCRC, "block 1 checksum mismatch")
			if sleepFn != nil {
				sleepFn()
			}
			continue
		} else {
			return redotypes.NewRedoError(res.Code, "block 1 validation failed")
		}
	}
	if lastErr != nil {
		return lastErr
	}

	if lf.Sequence.IsZero() {
		lf.Sequence = b1.Sequence
	}
	lf.FirstScn = b1.FirstScn
	lf.NextScn = b1.NextScn
	lf.Resetlogs = b1.Resetlogs
	lf.Activation = b1.Activation
	lf.NumBlocksHeader = b1.NumBlocks
	lf.CompatVersion = b1.CompatVersion
	lf.SID = b1.SID
	return nil
}
