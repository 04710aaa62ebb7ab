// Package archive implements the archived-log discoverer (spec.md §4.3):
// matching filenames against a log_archive_format template to extract a
// sequence number, walking a directory tree for candidates, and feeding
// them to an ArchiveQueue ordered by ascending sequence.
//
// Grounded on corereader's directory-walk helpers (corereader/open.go) for
// the filesystem-walk idiom; the template matcher itself has no teacher
// analogue and is written fresh against spec §4.3/§6.
package archive

import (
	"unicode"

	"github.com/redocdc/core/libraries/redotypes"
)

// ExtractSequence matches format (a log_archive_format template) against
// name and returns the sequence encoded in a %s or %S wildcard, or
// (ZeroSeq, false) if name doesn't match the template.
func ExtractSequence(format, name string) (redotypes.Seq, bool) {
	fi, ni := 0, 0
	var seq uint64
	haveSeq := false

	for fi < len(format) {
		if format[fi] == '%' && fi+1 < len(format) {
			switch format[fi+1] {
			case 's', 'S':
				n, rest, ok := consumeDigits(name[ni:])
				if !ok {
					return redotypes.ZeroSeq, false
				}
				seq = n
				haveSeq = true
				ni = len(name) - len(rest)
				fi += 2
				continue
			case 't', 'T', 'r', 'a', 'd':
				_, rest, ok := consumeDigits(name[ni:])
				if !ok {
					return redotypes.ZeroSeq, false
				}
				ni = len(name) - len(rest)
				fi += 2
				continue
			case 'h':
				rest, ok := consumeAlnum(name[ni:])
				if !ok {
					return redotypes.ZeroSeq, false
				}
				ni = len(name) - len(rest)
				fi += 2
				continue
			}
		}
		if ni >= len(name) || format[fi] != name[ni] {
			return redotypes.ZeroSeq, false
		}
		fi++
		ni++
	}

	if ni != len(name) || !haveSeq {
		return redotypes.ZeroSeq, false
	}
	return redotypes.Seq(seq), true
}

func consumeDigits(s string) (uint64, string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, false
	}
	var n uint64
	for j := 0; j < i; j++ {
		n = n*10 + uint64(s[j]-'0')
	}
	return n, s[i:], true
}

func consumeAlnum(s string) (string, bool) {
	i := 0
	for i < len(s) {
		r := rune(s[i])
		if !unicode.IsDigit(r) && !(r >= 'a' && r <= 'z') {
			break
		}
		i++
	}
	if i == 0 {
		return s, false
	}
	return s[i:], true
}
