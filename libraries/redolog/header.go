// Package redolog decodes the on-disk redo-log container format: the file
// header (block 0), the first data block (block 1, carrying SCN range and
// incarnation identity), and the per-block header every block beyond that
// carries. Layout and invariants follow spec.md §3 and §6.
//
// Grounded on the teacher's own container-header pattern in
// corereader/shared.go (ParseDataLogHeader/Validate/ReadDataLogHeader),
// generalized from its 32-byte slice header to the richer two-block Oracle
// redo header, and on the per-block CRC walk in
// corereader/slice_reader.go's sliceReader.readBlockData.
package redolog

import (
	"encoding/binary"
	"fmt"

	"github.com/redocdc/core/libraries/redotypes"
)

// Block0Size is the number of bytes of block 0 this package inspects; the
// remainder of the block (out to blockSize) is not interpreted here.
const Block0Size = 32

// Block1 field offsets, spec §6.
const (
	offSequence      = 8
	offCompatVersion = 20
	offDBID          = 24
	offSID           = 28
	sidLen           = 8
	offActivation    = 52
	offNumBlocks     = 156
	offResetlogs     = 160
	offFirstScn      = 180
	offFirstTime     = 188
	offNextScn       = 192
	offNextTime      = 200
	offMiscFlags     = 236
	Block1MinSize    = 240
)

// Block0Header is the parsed content of a log file's first block.
type Block0Header struct {
	BlockSize redotypes.BlockSize
	Endian    redotypes.Endian
}

var (
	ErrBadMagic      = fmt.Errorf("bad block 0 magic")
	ErrBadByteOrder  = fmt.Errorf("unrecognized byte-order signature")
	ErrBlockTooShort = fmt.Errorf("block shorter than required header size")
	ErrBadCompatVer  = fmt.Errorf("database compat version not in allow-list")
)

// byteOrderSignature is the 4-byte marker at block 0 offset 28..31.
var (
	sigBigEndian    = [4]byte{0x7A, 0x7B, 0x7C, 0x7D}
	sigLittleEndian = [4]byte{0x7D, 0x7C, 0x7B, 0x7A}
)

// ParseBlock0 validates the magic and byte-order signature of a file's first
// block and extracts its declared block size. It does not itself know the
// block size in advance (that's exactly what it reports), so callers pass
// in however many bytes of block 0 they were able to read — at least
// Block0Size.
func ParseBlock0(data []byte) (Block0Header, error) {
	var h Block0Header
	if len(data) < Block0Size {
		return h, ErrBlockTooShort
	}
	if data[0] != 0x00 || (data[1] != 0x22 && data[1] != 0x82) {
		return h, ErrBadMagic
	}

	switch {
	case data[28] == sigBigEndian[0] && data[29] == sigBigEndian[1] && data[30] == sigBigEndian[2] && data[31] == sigBigEndian[3]:
		h.Endian = redotypes.EndianBig
	case data[28] == sigLittleEndian[0] && data[29] == sigLittleEndian[1] && data[30] == sigLittleEndian[2] && data[31] == sigLittleEndian[3]:
		h.Endian = redotypes.EndianLittle
	default:
		return h, ErrBadByteOrder
	}

	bo := byteOrderOf(h.Endian)
	h.BlockSize = redotypes.BlockSize(bo.Uint32(data[20:24]))
	if !h.BlockSize.Valid() {
		return h, fmt.Errorf("%w: %d", ErrBadMagic, h.BlockSize)
	}
	return h, nil
}

func byteOrderOf(e redotypes.Endian) binary.ByteOrder {
	if e == redotypes.EndianBig {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Block1Header is the parsed content of a log file's second block: identity
// and SCN range.
type Block1Header struct {
	Sequence      redotypes.Seq
	CompatVersion uint32
	DBID          uint32
	SID           string
	Activation    redotypes.Activation
	NumBlocks     uint32 // 0 means "unknown" (online log still growing)
	Resetlogs     redotypes.Resetlogs
	FirstScn      redotypes.Scn
	FirstTime     uint32
	NextScn       redotypes.Scn
	NextTime      uint32
	MiscFlags     uint32
}

// compatVersionRanges is the allow-list of supported database versions,
// encoded the way Oracle packs a version into a uint32: the top byte is the
// major version and the next 4 bits the release (0x0B200000 is 11.2).
// 11.2.x .. 23.x are accepted.
var compatVersionRanges = [][2]uint32{
	{0x0B200000, 0x0B2FFFFF}, // 11.2.x
	{0x0C100000, 0x0CFFFFFF}, // 12.x
	{0x12000000, 0x12FFFFFF}, // 18.x
	{0x13000000, 0x13FFFFFF}, // 19.x
	{0x15000000, 0x17FFFFFF}, // 21.x .. 23.x
}

func compatVersionAllowed(v uint32) bool {
	for _, r := range compatVersionRanges {
		if v >= r[0] && v <= r[1] {
			return true
		}
	}
	return false
}

// ParseBlock1 extracts identity and SCN-range fields from a file's second
// block, given the byte order locked in by ParseBlock0.
func ParseBlock1(data []byte, endian redotypes.Endian) (Block1Header, error) {
	var h Block1Header
	if len(data) < Block1MinSize {
		return h, ErrBlockTooShort
	}
	bo := byteOrderOf(endian)

	h.Sequence = redotypes.Seq(bo.Uint32(data[offSequence : offSequence+4]))
	h.CompatVersion = bo.Uint32(data[offCompatVersion : offCompatVersion+4])
	if !compatVersionAllowed(h.CompatVersion) {
		return h, fmt.Errorf("%w: %08x", ErrBadCompatVer, h.CompatVersion)
	}
	h.DBID = bo.Uint32(data[offDBID : offDBID+4])
	h.SID = trimNulls(data[offSID : offSID+sidLen])
	h.Activation = redotypes.Activation(bo.Uint32(data[offActivation : offActivation+4]))
	h.NumBlocks = bo.Uint32(data[offNumBlocks : offNumBlocks+4])
	h.Resetlogs = redotypes.Resetlogs(bo.Uint32(data[offResetlogs : offResetlogs+4]))
	h.FirstScn = redotypes.Scn(bo.Uint64(data[offFirstScn : offFirstScn+8]))
	h.FirstTime = bo.Uint32(data[offFirstTime : offFirstTime+4])
	nextScn := bo.Uint64(data[offNextScn : offNextScn+8])
	if nextScn == 0 {
		h.NextScn = redotypes.NoScn
	} else {
		h.NextScn = redotypes.Scn(nextScn)
	}
	h.NextTime = bo.Uint32(data[offNextTime : offNextTime+4])
	h.MiscFlags = bo.Uint32(data[offMiscFlags : offMiscFlags+4])
	return h, nil
}

func trimNulls(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
