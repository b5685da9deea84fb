package spool

import "strings"

// Spool filename grammar (spec.md §6):
//
//	Command file: C.<peer><grade><seq>
//	Data file:    D.<peer><grade><seq>
//	Execute file: X.<peer><seq>          (grade is the last seq character)
//
// seq is 4-or-more alphanumeric characters. Peer names are truncated by the
// legacy spool to a handful of characters; we keep whatever prefix callers
// pass in, since the real uuconf name-mangling table is out of scope.

// IsSpoolFile reports whether name matches the spool naming grammar
// (`^[CDX]\.`), i.e. names a command, data, or execute file.
func IsSpoolFile(name string) bool {
	if len(name) < 2 || name[1] != '.' {
		return false
	}
	switch name[0] {
	case 'C', 'D', 'X':
		return true
	default:
		return false
	}
}

// IsGradeByte reports whether b is a legal single-character grade
// (alphanumeric, per uuconf/tportc.c's isalnum check).
func IsGradeByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// gradeRank orders grades the way the traditional spool collates them:
// digits first, then uppercase, then lowercase — which happens to equal
// raw ASCII byte order, but we spell it out rather than lean on that
// coincidence (see SPEC_FULL.md's note on §6 grade ordering).
func gradeRank(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'A' && b <= 'Z':
		return 10 + int(b-'A')
	case b >= 'a' && b <= 'z':
		return 10 + 26 + int(b-'a')
	default:
		return 1000 + int(b)
	}
}

// GradeLessOrEqual reports whether grade a sorts at or before grade b, i.e.
// a job graded a is equal or higher priority than one graded b.
func GradeLessOrEqual(a, b byte) bool {
	return gradeRank(a) <= gradeRank(b)
}

// CommandFileName returns the name of a work (command) file for peer at
// the given grade and sequence.
func CommandFileName(peer string, grade byte, seq string) string {
	return "C." + peer + string(grade) + seq
}

// DataFileName returns the name of a data file for peer at the given grade
// and sequence.
func DataFileName(peer string, grade byte, seq string) string {
	return "D." + peer + string(grade) + seq
}

// ExecuteFileName returns the name of an execute file for localname and
// sequence; the last character of seq encodes the grade.
func ExecuteFileName(localname string, seq string) string {
	return "X." + localname + seq
}

// ParsedName is the decoded form of a spool filename.
type ParsedName struct {
	Kind  byte // 'C', 'D', or 'X'
	Peer  string
	Grade byte
	Seq   string
}

// ParseName decodes a spool filename produced by CommandFileName,
// DataFileName, or ExecuteFileName. It returns ok=false for anything that
// does not match the grammar.
func ParseName(name string) (ParsedName, bool) {
	if !IsSpoolFile(name) {
		return ParsedName{}, false
	}
	rest := name[2:]
	kind := name[0]

	switch kind {
	case 'X':
		// X.<peer><seq>; seq's own last character encodes the grade (no
		// separate grade byte, unlike C./D. names).
		for split := len(rest) - 4; split >= 1; split-- {
			seq := rest[split:]
			if len(seq) < 4 || !looksLikeSeq(seq) {
				continue
			}
			grade := seq[len(seq)-1]
			if !IsGradeByte(grade) {
				continue
			}
			peer := rest[:split]
			if peer == "" {
				continue
			}
			return ParsedName{Kind: kind, Peer: peer, Grade: grade, Seq: seq}, true
		}
		return ParsedName{}, false
	case 'C', 'D':
		if len(rest) < 2 {
			return ParsedName{}, false
		}
		// <peer><grade><seq>: grade is a single alnum byte, seq is the
		// trailing 4+ alnum run; peer is whatever remains before it. Walk
		// from the end to find the shortest such split.
		for split := len(rest) - 4; split >= 1; split-- {
			seq := rest[split+1:]
			if len(seq) < 4 || !looksLikeSeq(seq) {
				continue
			}
			grade := rest[split]
			if !IsGradeByte(grade) {
				continue
			}
			peer := rest[:split]
			if peer == "" {
				continue
			}
			return ParsedName{Kind: kind, Peer: peer, Grade: grade, Seq: seq}, true
		}
		return ParsedName{}, false
	default:
		return ParsedName{}, false
	}
}

func looksLikeSeq(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// TrimSeq strips any extension uuconf sometimes appends (".gz" etc.) — not
// part of the core grammar, but list_work/list_xfiles must not choke on it.
func TrimSeq(seq string) string {
	if idx := strings.IndexByte(seq, '.'); idx >= 0 {
		return seq[:idx]
	}
	return seq
}
