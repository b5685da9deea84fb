package spool

import (
	"context"
	"testing"
	"time"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(t.TempDir(), "locname")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNextSequenceMonotonic(t *testing.T) {
	s := newTestSpool(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		seq, err := s.NextSequence()
		if err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
		if len(seq) < 4 {
			t.Fatalf("NextSequence() = %q, want length >= 4", seq)
		}
		if seen[seq] {
			t.Fatalf("NextSequence() returned %q twice", seq)
		}
		seen[seq] = true
	}
}

func TestXqtNameJobIDMatchesJobIDFor(t *testing.T) {
	s := newTestSpool(t)
	xname, jobid, err := s.XqtName("peer1", 'S')
	if err != nil {
		t.Fatalf("XqtName: %v", err)
	}
	pn, ok := ParseName(xname)
	if !ok {
		t.Fatalf("ParseName(%q): not ok", xname)
	}
	if pn.Kind != 'X' || pn.Grade != 'S' {
		t.Fatalf("ParseName(%q) = %+v", xname, pn)
	}
	if jobid != JobIDFor("peer1", 'S', pn.Seq) {
		t.Errorf("jobid %q does not match JobIDFor derivation", jobid)
	}
}

func TestCreateAndListWork(t *testing.T) {
	s := newTestSpool(t)

	name, err := s.NewCommandName("sys1", 'S')
	if err != nil {
		t.Fatalf("NewCommandName: %v", err)
	}
	f, err := s.Create(name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	cmds := []WorkCommand{
		{Cmd: 'S', ZFrom: "/etc/motd", ZTo: "motd", ZUser: "alice", CBytes: -1},
	}
	if err := WriteWorkCommands(f, cmds); err != nil {
		t.Fatalf("WriteWorkCommands: %v", err)
	}
	f.Close()

	jobs, err := s.ListWork("", 'z')
	if err != nil {
		t.Fatalf("ListWork: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("ListWork: got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Peer != "sys1" || jobs[0].Grade != 'S' {
		t.Errorf("ListWork job = %+v", jobs[0])
	}
	if len(jobs[0].Commands) != 1 || jobs[0].Commands[0].ZUser != "alice" {
		t.Errorf("ListWork commands = %+v", jobs[0].Commands)
	}

	found, ok, err := s.Locate(jobs[0].JobID)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if !ok {
		t.Fatalf("Locate(%q): not found", jobs[0].JobID)
	}
	if found.File != name {
		t.Errorf("Locate found file %q, want %q", found.File, name)
	}
}

func TestListWorkGradeFilter(t *testing.T) {
	s := newTestSpool(t)

	lowName, _ := s.NewCommandName("sys1", 'z')
	f, _ := s.Create(lowName)
	WriteWorkCommands(f, []WorkCommand{{Cmd: 'S', ZFrom: "a", ZTo: "b", ZUser: "c", CBytes: -1}})
	f.Close()

	highName, _ := s.NewCommandName("sys1", 'A')
	f2, _ := s.Create(highName)
	WriteWorkCommands(f2, []WorkCommand{{Cmd: 'S', ZFrom: "d", ZTo: "e", ZUser: "f", CBytes: -1}})
	f2.Close()

	jobs, err := s.ListWork("", 'A')
	if err != nil {
		t.Fatalf("ListWork: %v", err)
	}
	if len(jobs) != 1 || jobs[0].File != highName {
		t.Fatalf("ListWork(minGrade='A') should only admit grade A or higher, got %+v", jobs)
	}
}

func TestLockCommandExclusive(t *testing.T) {
	s := newTestSpool(t)
	l1, err := s.LockCommand("rnews")
	if err != nil {
		t.Fatalf("LockCommand: %v", err)
	}
	if l1 == nil {
		t.Fatal("LockCommand: expected to acquire the lock")
	}
	l2, err := s.LockCommand("rnews")
	if err != nil {
		t.Fatalf("LockCommand (second): %v", err)
	}
	if l2 != nil {
		t.Fatal("LockCommand: expected nil, lock already held")
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	l3, err := s.LockCommand("rnews")
	if err != nil {
		t.Fatalf("LockCommand (after release): %v", err)
	}
	if l3 == nil {
		t.Fatal("LockCommand: expected to reacquire after release")
	}
}

func TestStatusStoreRoundTrip(t *testing.T) {
	s := newTestSpool(t)
	store, err := s.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	now := time.Now()
	if err := store.RecordAttempt("sys1", now, StatusLoginFailed); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	st, err := store.Get("sys1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Type != StatusLoginFailed || st.Retries != 1 {
		t.Errorf("Get() = %+v, want Type=LoginFailed Retries=1", st)
	}
	if err := store.RecordAttempt("sys1", now.Add(time.Hour), StatusComplete); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	st2, err := store.Get("sys1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st2.Type != StatusComplete || st2.Retries != 0 {
		t.Errorf("Get() after success = %+v, want Type=Complete Retries=0", st2)
	}
}

func TestLockExecuteDirectoryCancel(t *testing.T) {
	s := newTestSpool(t)
	held, err := s.LockExecuteDirectory(context.Background())
	if err != nil {
		t.Fatalf("LockExecuteDirectory: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.LockExecuteDirectory(ctx)
	if err == nil {
		t.Fatal("LockExecuteDirectory: expected error, lock already held and context will cancel")
	}
}
