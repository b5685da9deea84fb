package spool

import (
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// jobIDEncoding is an unpadded, lowercase base32 alphabet, used to keep
// jobids short and filename/shell safe.
var jobIDEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// peerHash folds a peer name into a short, stable tag. This is the "peer
// hash" spec.md §4.1's algorithmic note requires mixed into the jobid, so
// that a jobid handed to a user does not spell out the remote system's name
// the way a bare filename would.
func peerHash(peer string) uint32 {
	sum := blake2b.Sum256([]byte(peer))
	return uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
}

// JobIDFor derives the jobid for a job whose command file carries the given
// peer, grade and sequence (the sequence tail of its filename).
func JobIDFor(peer string, grade byte, seq string) string {
	tag := jobIDEncoding.EncodeToString([]byte{
		byte(peerHash(peer) >> 24),
		byte(peerHash(peer) >> 16),
	})
	return fmt.Sprintf("%s%c%s", seq, grade, tag)
}

// splitJobID recovers (seq, grade, tag) from a jobid produced by JobIDFor.
func splitJobID(jobid string) (seq string, grade byte, tag string, ok bool) {
	tagLen := jobIDEncoding.EncodedLen(2)
	if len(jobid) < tagLen {
		return "", 0, "", false
	}
	tag = jobid[len(jobid)-tagLen:]
	rest := jobid[:len(jobid)-tagLen]
	if rest == "" {
		return "", 0, "", false
	}
	grade = rest[len(rest)-1]
	seq = rest[:len(rest)-1]
	if !IsGradeByte(grade) || seq == "" {
		return "", 0, "", false
	}
	return seq, grade, tag, true
}

// matchesJobID reports whether a candidate peer name, grade and sequence
// reconstruct the given jobid.
func matchesJobID(jobid, peer string, grade byte, seq string) bool {
	return strings.EqualFold(JobIDFor(peer, grade, seq), jobid)
}
