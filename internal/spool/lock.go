package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/uucp-go/uucp/internal/uerr"
)

// Lock is a held advisory lock file. Release removes it.
type Lock struct {
	path string
}

// Release removes the lock file. It is safe to call once; calling it twice
// is a caller error, same as closing a file twice.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return uerr.New(uerr.KindSpoolIO, "lock.Release", err)
	}
	return nil
}

// tryLock attempts to create path exclusively, writing the caller's pid so
// a stale lock can be diagnosed by hand. It returns (nil, nil) if the lock
// is already held by someone else.
func tryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, nil
		}
		return nil, uerr.New(uerr.KindSpoolIO, "lock", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return &Lock{path: path}, nil
}

// LockCommand acquires the single system-wide LCK.XQT.<cmd> lock that
// serializes all execution of a given local command name, per spec.md §4.5
// step 6's "at most one instance of a given command class running at once"
// rule. It returns (nil, nil), not an error, when the lock is already held.
func (s *Spool) LockCommand(cmd string) (*Lock, error) {
	return tryLock(filepath.Join(s.root, "LCK.XQT."+sanitizeLockComponent(cmd)))
}

// LockExecuteFile acquires LCK.X.<xfile>, which prevents two uuxqt
// processes from claiming the same X-file.
func (s *Spool) LockExecuteFile(xfile string) (*Lock, error) {
	return tryLock(filepath.Join(s.root, "LCK.X."+sanitizeLockComponent(xfile)))
}

// LockPeer acquires LCK.<peer>, the per-system lock a transport session
// holds for the duration of a call.
func (s *Spool) LockPeer(peer string) (*Lock, error) {
	return tryLock(filepath.Join(s.root, "LCK."+sanitizeLockComponent(peer)))
}

// LockExecuteDirectory acquires the single LCK.XQT lock that guards the
// execute directory while renamed required files are staged into it,
// retrying per spec.md §4.5 step 9: up to 5 times,
// 30 seconds apart, before giving up. ctx cancellation aborts the wait
// early with a KindInterrupted error.
func (s *Spool) LockExecuteDirectory(ctx context.Context) (*Lock, error) {
	path := filepath.Join(s.root, "LCK.XQT")
	const attempts = 5
	const wait = 30 * time.Second

	for i := 0; i < attempts; i++ {
		l, err := tryLock(path)
		if err != nil {
			return nil, err
		}
		if l != nil {
			return l, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, uerr.New(uerr.KindInterrupted, "LockExecuteDirectory", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, uerr.New(uerr.KindSpoolIO, "LockExecuteDirectory", fmt.Errorf("lock %s held after %d attempts", path, attempts))
}

func sanitizeLockComponent(s string) string {
	// Lock filenames are derived from untrusted-ish inputs (command names,
	// peer names); keep them to a flat filename, never a path.
	return filepath.Base(s)
}

// readLockPID returns the pid recorded in a lock file, used only for
// diagnostics (uustat doesn't currently surface this, but it's cheap and
// matches the original spool's habit of writing a pid into LCK files).
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil {
		return 0, err
	}
	return n, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
