// Package spool implements the on-disk job store shared by uux, uuxqt and
// uustat: spool filename grammar, work-file and execute-file line formats,
// sequence/jobid generation, advisory locking, and per-peer call status.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/uucp-go/uucp/internal/uerr"
)

// Spool is a handle on one spool directory tree.
type Spool struct {
	root       string
	localname  string
	seqMu      sync.Mutex
	statusOnce sync.Once
	status     *StatusStore
	statusErr  error
}

// New returns a handle on the spool rooted at root, for a system whose own
// name (used to build X-file names) is localname.
func New(root, localname string) (*Spool, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, uerr.New(uerr.KindSpoolIO, "spool.New", err)
	}
	return &Spool{root: root, localname: localname}, nil
}

// Root returns the spool's root directory.
func (s *Spool) Root() string { return s.root }

// LocalName returns this system's own name, as passed to New.
func (s *Spool) LocalName() string { return s.localname }

// Status returns the peer-status store rooted at <spool>/.Status, creating
// it on first use.
func (s *Spool) Status() (*StatusStore, error) {
	s.statusOnce.Do(func() {
		s.status, s.statusErr = NewStatusStore(filepath.Join(s.root, ".Status"))
	})
	return s.status, s.statusErr
}

// NextSequence allocates a fresh, monotonically increasing sequence string
// at least 4 characters long, the way the traditional spool's gensub()
// derives one from a counter file rather than wall-clock time. Counter
// state lives in <spool>/.Sequence, read-modify-written under seqMu plus an
// exclusive lock file so concurrent uux/uuxqt processes never collide.
func (s *Spool) NextSequence() (string, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	lockPath := filepath.Join(s.root, "LCK.Sequence")
	for {
		l, err := tryLock(lockPath)
		if err != nil {
			return "", err
		}
		if l != nil {
			defer l.Release()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	path := filepath.Join(s.root, ".Sequence")
	var n int64
	if data, err := os.ReadFile(path); err == nil {
		n, _ = strconv.ParseInt(string(trimNewline(data)), 36, 64)
	} else if !os.IsNotExist(err) {
		return "", uerr.New(uerr.KindSpoolIO, "NextSequence", err)
	}
	n++
	if err := os.WriteFile(path, []byte(strconv.FormatInt(n, 36)), 0644); err != nil {
		return "", uerr.New(uerr.KindSpoolIO, "NextSequence", err)
	}

	seq := strconv.FormatInt(n, 36)
	for len(seq) < 4 {
		seq = "0" + seq
	}
	return seq, nil
}

// NewDataName returns a fresh data-file name for peer at the given grade.
func (s *Spool) NewDataName(peer string, grade byte) (string, error) {
	seq, err := s.NextSequence()
	if err != nil {
		return "", err
	}
	return DataFileName(peer, grade, seq), nil
}

// NewCommandName returns a fresh work-file name for peer at the given
// grade.
func (s *Spool) NewCommandName(peer string, grade byte) (string, error) {
	seq, err := s.NextSequence()
	if err != nil {
		return "", err
	}
	return CommandFileName(peer, grade, seq), nil
}

// XqtName returns a fresh execute-file name local to this system, whose
// trailing character encodes grade, and the jobid that identifies it to
// uustat and uux -j.
func (s *Spool) XqtName(peer string, grade byte) (name, jobid string, err error) {
	seq, err := s.NextSequence()
	if err != nil {
		return "", "", err
	}
	seq = seq[:len(seq)-1] + string(grade)
	return ExecuteFileName(s.localname, seq), JobIDFor(peer, grade, seq), nil
}

func (s *Spool) path(name string) string {
	return filepath.Join(s.root, name)
}

// IsSpoolFile reports whether name both matches the spool grammar and
// exists under the spool root as a regular file.
func (s *Spool) IsSpoolFile(name string) bool {
	if !IsSpoolFile(name) {
		return false
	}
	fi, err := os.Stat(s.path(name))
	return err == nil && fi.Mode().IsRegular()
}

// FileTime returns name's modification time.
func (s *Spool) FileTime(name string) (time.Time, error) {
	fi, err := os.Stat(s.path(name))
	if err != nil {
		return time.Time{}, uerr.New(uerr.KindSpoolIO, "FileTime", err)
	}
	return fi.ModTime(), nil
}

// Size returns name's size in bytes.
func (s *Spool) Size(name string) (int64, error) {
	fi, err := os.Stat(s.path(name))
	if err != nil {
		return 0, uerr.New(uerr.KindSpoolIO, "Size", err)
	}
	return fi.Size(), nil
}

// Open opens a spool file for reading.
func (s *Spool) Open(name string) (*os.File, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, uerr.New(uerr.KindSpoolIO, "Open", err)
	}
	return f, nil
}

// Create creates a new spool file, failing if it already exists.
func (s *Spool) Create(name string) (*os.File, error) {
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, uerr.New(uerr.KindSpoolIO, "Create", err)
	}
	return f, nil
}

// RemoveJob deletes every file named by names, tolerating files that are
// already gone (a job's cleanup may race with another process touching the
// same job, e.g. uustat -k against a uuxqt already running it).
func (s *Spool) RemoveJob(names ...string) error {
	for _, name := range names {
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			return uerr.New(uerr.KindSpoolIO, "RemoveJob", err)
		}
	}
	return nil
}

// TouchJob resets name's modification time to now, the mechanism behind
// uustat -r's "rejuvenate" operation (spec.md §5): it postpones whatever
// age-based expiry policy the transport applies, without altering content.
func (s *Spool) TouchJob(name string) error {
	now := time.Now()
	if err := os.Chtimes(s.path(name), now, now); err != nil {
		return uerr.New(uerr.KindSpoolIO, "TouchJob", err)
	}
	return nil
}

// ListXFiles returns every execute-file name present in the spool, sorted
// oldest-first. Unlike ListWork, this is a finite, non-restartable
// snapshot: spec.md §4.4 describes uuxqt's scan as a single pass over
// exactly the X-files present when it starts.
func (s *Spool) ListXFiles() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, uerr.New(uerr.KindSpoolIO, "ListXFiles", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && len(e.Name()) > 1 && e.Name()[0] == 'X' && e.Name()[1] == '.' {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ti, _ := s.FileTime(names[i])
		tj, _ := s.FileTime(names[j])
		return ti.Before(tj)
	})
	return names, nil
}

// WorkJob is one jobid's worth of command-file lines together with the
// file's own name and peer/grade, as list_work groups them (spec.md §4.1's
// "a job's lines are contiguous within one peer's command file").
type WorkJob struct {
	File     string
	Peer     string
	Grade    byte
	Seq      string
	JobID    string
	Commands []WorkCommand
}

// ListWork returns every work file's jobs, restricted to peer (or every
// peer if peer is "") and grades at or above minGrade, sorted by grade then
// by sequence — the traversal order spec.md §4.1 requires a transport to
// honor when offering work for a call.
func (s *Spool) ListWork(peer string, minGrade byte) ([]WorkJob, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, uerr.New(uerr.KindSpoolIO, "ListWork", err)
	}

	var jobs []WorkJob
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if len(name) < 2 || name[0] != 'C' || name[1] != '.' {
			continue
		}
		pn, ok := ParseName(name)
		if !ok {
			continue
		}
		if peer != "" && pn.Peer != peer {
			continue
		}
		if !GradeLessOrEqual(pn.Grade, minGrade) {
			continue
		}
		f, err := s.Open(name)
		if err != nil {
			continue
		}
		cmds, err := ParseWorkFile(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("spool: %s: %w", name, err)
		}
		jobs = append(jobs, WorkJob{
			File:     name,
			Peer:     pn.Peer,
			Grade:    pn.Grade,
			Seq:      pn.Seq,
			JobID:    JobIDFor(pn.Peer, pn.Grade, pn.Seq),
			Commands: cmds,
		})
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Grade != jobs[j].Grade {
			return gradeRank(jobs[i].Grade) < gradeRank(jobs[j].Grade)
		}
		return jobs[i].Seq < jobs[j].Seq
	})
	return jobs, nil
}

// Locate finds the work file backing jobid by scanning candidate peer
// prefixes out of every C. file currently in the spool and testing each
// against the jobid's embedded hash tag, since jobid encodes a peer hash
// rather than the peer name itself (spec.md §4.1).
func (s *Spool) Locate(jobid string) (WorkJob, bool, error) {
	seq, grade, _, ok := splitJobID(jobid)
	if !ok {
		return WorkJob{}, false, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return WorkJob{}, false, uerr.New(uerr.KindSpoolIO, "Locate", err)
	}
	for _, e := range entries {
		name := e.Name()
		if len(name) < 2 || name[0] != 'C' || name[1] != '.' {
			continue
		}
		pn, ok := ParseName(name)
		if !ok || pn.Grade != grade || pn.Seq != seq {
			continue
		}
		if !matchesJobID(jobid, pn.Peer, pn.Grade, pn.Seq) {
			continue
		}
		f, err := s.Open(name)
		if err != nil {
			return WorkJob{}, false, err
		}
		cmds, err := ParseWorkFile(f)
		f.Close()
		if err != nil {
			return WorkJob{}, false, fmt.Errorf("spool: %s: %w", name, err)
		}
		return WorkJob{File: name, Peer: pn.Peer, Grade: pn.Grade, Seq: pn.Seq, JobID: jobid, Commands: cmds}, true, nil
	}
	return WorkJob{}, false, nil
}

// Wait blocks until ctx is done; used by callers that poll the spool on an
// interval rather than via filesystem notification (spec.md makes no
// promise of inotify-style wakeups, matching the teacher's own avoidance of
// OS-specific watch APIs).
func (s *Spool) Wait(ctx context.Context, interval time.Duration) {
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
