package redolog

import (
	"encoding/binary"

	"github.com/redocdc/core/libraries/redotypes"
)

// Per-block header offsets (blocks >= 1), spec §6.
const (
	blkOffBlockNumber = 4
	blkOffSequence    = 8
	blkOffChecksum    = 14
)

// BlockCheckResult is the outcome of validating one block against its
// expected position in the file (spec §4.2.2).
type BlockCheckResult struct {
	Code          redotypes.RedoCode
	SeenSequence  redotypes.Seq
	AdoptSequence bool // first block of the file, or UPDATE: caller should adopt SeenSequence
}

// CheckBlockHeader validates one block buffer against the expected block
// number and the file's current sequence, following spec §4.2.2:
//
//  1. all-zero first two bytes -> EMPTY (not yet written)
//  2. second byte neither 0x22 nor 0x82 -> ERROR_BAD_DATA (the value is not
//     checked against blockSize)
//  3. on first block seen (adoptSequence=true) the sequence is adopted, not
//     compared
//  4. archived (group==0): sequence must equal fileSeq, else ERROR_SEQUENCE
//  5. online (group>0): fileSeq > seen -> EMPTY; fileSeq < seen -> OVERWRITTEN
//  6. block-number field must equal expected -> else ERROR_BLOCK
//  7. unless disableChecksum, the block's checksum is verified -> else ERROR_CRC
func CheckBlockHeader(block []byte, blockSize redotypes.BlockSize, expected redotypes.Blk, group redotypes.Group, fileSeq redotypes.Seq, adoptSequence bool, endian redotypes.Endian, disableChecksum bool) BlockCheckResult {
	if len(block) < int(blockSize) {
		return BlockCheckResult{Code: redotypes.CodeErrorBadData}
	}

	if block[0] == 0 && block[1] == 0 {
		return BlockCheckResult{Code: redotypes.CodeEmpty}
	}

	if block[1] != 0x22 && block[1] != 0x82 {
		return BlockCheckResult{Code: redotypes.CodeErrorBadData}
	}

	bo := byteOrderOf(endian)
	blockNum := redotypes.Blk(bo.Uint32(block[blkOffBlockNumber : blkOffBlockNumber+4]))
	seen := redotypes.Seq(bo.Uint32(block[blkOffSequence : blkOffSequence+4]))

	if adoptSequence {
		fileSeq = seen
	} else {
		if group == redotypes.ArchivedGroup {
			if seen != fileSeq {
				return BlockCheckResult{Code: redotypes.CodeErrorSequence, SeenSequence: seen}
			}
		} else {
			if fileSeq > seen {
				return BlockCheckResult{Code: redotypes.CodeEmpty, SeenSequence: seen}
			}
			if fileSeq < seen {
				return BlockCheckResult{Code: redotypes.CodeOverwritten, SeenSequence: seen}
			}
		}
	}

	if blockNum != redotypes.Blk(expected) {
		return BlockCheckResult{Code: redotypes.CodeErrorBlock, SeenSequence: seen}
	}

	if !disableChecksum {
		if !verifyChecksum(block[:blockSize], bo) {
			return BlockCheckResult{Code: redotypes.CodeErrorCRC, SeenSequence: seen}
		}
	}

	return BlockCheckResult{Code: redotypes.CodeOK, SeenSequence: seen, AdoptSequence: adoptSequence}
}

// verifyChecksum implements spec §4.2.2's block checksum: XOR the block as
// 8-byte words (with the 2-byte checksum field zeroed, matching how the
// checksum was originally computed), fold to 32 then 16 bits, and compare
// against the stored checksum.
func verifyChecksum(block []byte, bo binary.ByteOrder) bool {
	stored := bo.Uint16(block[blkOffChecksum : blkOffChecksum+2])

	scratch := make([]byte, len(block))
	copy(scratch, block)
	scratch[blkOffChecksum] = 0
	scratch[blkOffChecksum+1] = 0

	var acc uint64
	n := len(scratch) - len(scratch)%8
	for i := 0; i < n; i += 8 {
		acc ^= binary.LittleEndian.Uint64(scratch[i : i+8])
	}
	for i := n; i < len(scratch); i++ {
		acc ^= uint64(scratch[i]) << (8 * uint(i-n))
	}

	folded32 := uint32(acc>>32) ^ uint32(acc)
	folded16 := uint16(folded32>>16) ^ uint16(folded32)

	return folded16 == stored
}
