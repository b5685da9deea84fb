package uux

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/transport"
	"github.com/uucp-go/uucp/internal/uuconf"
)

type fakeTransport struct {
	spawned []string
}

func (f *fakeTransport) Spawn(ctx context.Context, target transport.Target) error {
	f.spawned = append(f.spawned, target.String())
	return nil
}

func newTestSubmitter(t *testing.T, systems ...string) (*Submitter, *spool.Spool, *fakeTransport) {
	t.Helper()
	sp, err := spool.New(t.TempDir(), "locname")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	cfg := uuconf.Default()
	cfg.LocalName = "locname"
	for _, sys := range systems {
		cfg.Systems = append(cfg.Systems, uuconf.SystemInfo{Name: sys, Commands: []string{"rmail", "wc"}})
	}
	ft := &fakeTransport{}
	return New(sp, &cfg, ft, nil), sp, ft
}

func TestSubmitRemoteFileAlreadyOnExecutor(t *testing.T) {
	s, sp, ft := newTestSubmitter(t, "peerA")

	res, err := s.Submit(context.Background(), Options{User: "alice", NoTransport: true}, []string{"peerA!wc", "peerA!/tmp/x"}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ExecPeer != "peerA" {
		t.Errorf("ExecPeer = %q, want peerA", res.ExecPeer)
	}
	if len(ft.spawned) != 0 {
		t.Errorf("NoTransport should not invoke the transport")
	}

	xfiles, err := sp.ListXFiles()
	if err != nil {
		t.Fatalf("ListXFiles: %v", err)
	}
	if len(xfiles) != 1 {
		t.Fatalf("ListXFiles: got %d, want 1", len(xfiles))
	}
	f, _ := sp.Open(xfiles[0])
	defer f.Close()
	x, err := spool.ParseExecuteFile(f)
	if err != nil {
		t.Fatalf("ParseExecuteFile: %v", err)
	}
	if x.CmdLine != "wc /tmp/x" {
		t.Errorf("CmdLine = %q, want %q (no F/S for a file already on the executor)", x.CmdLine, "wc /tmp/x")
	}
	if len(x.Files) != 0 {
		t.Errorf("Files = %v, want none (L3 needs no transfer)", x.Files)
	}
}

func TestSubmitThirdSystemForwardingRejected(t *testing.T) {
	s, sp, _ := newTestSubmitter(t, "peerA", "peerB")

	_, err := s.Submit(context.Background(), Options{User: "alice", NoTransport: true}, []string{"peerA!wc", "peerB!/tmp/x"}, strings.NewReader(""))
	if err == nil {
		t.Fatal("Submit: expected forwarding rejection error")
	}
	if !strings.Contains(err.Error(), "forwarding does not yet work") {
		t.Errorf("error = %v, want mention of forwarding", err)
	}

	xfiles, _ := sp.ListXFiles()
	if len(xfiles) != 0 {
		t.Errorf("spool should be left unchanged on rejection, found %v", xfiles)
	}
}

func TestSubmitUnknownSystemRejected(t *testing.T) {
	s, _, _ := newTestSubmitter(t)
	_, err := s.Submit(context.Background(), Options{User: "alice", NoTransport: true}, []string{"ghost!wc"}, strings.NewReader(""))
	if err == nil {
		t.Fatal("Submit: expected unknown-system error")
	}
}

func TestSubmitLocalCommandNoFiles(t *testing.T) {
	s, sp, ft := newTestSubmitter(t)
	res, err := s.Submit(context.Background(), Options{User: "alice"}, []string{"date"}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ExecPeer != "" {
		t.Errorf("ExecPeer = %q, want \"\" (local)", res.ExecPeer)
	}
	if len(ft.spawned) != 0 {
		t.Error("a purely local job should never invoke the transport")
	}
	xfiles, _ := sp.ListXFiles()
	if len(xfiles) != 1 {
		t.Fatalf("ListXFiles: got %d, want 1", len(xfiles))
	}
}

// TestSubmitLocalFileArgRemoteExec covers L2: a local file argument to a
// remote-exec command, spec.md §8 scenario 1's flagship case. The file must
// be materialized into the spool, a "S ... <user> C ..." work command must
// carry the submitting user (not blank), and the X-file's F line must carry
// a renamed basename since the argument is read by that basename in argv.
func TestSubmitLocalFileArgRemoteExec(t *testing.T) {
	s, sp, _ := newTestSubmitter(t, "peerA")

	dir := t.TempDir()
	localFile := filepath.Join(dir, "x")
	if err := os.WriteFile(localFile, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res, err := s.Submit(context.Background(), Options{User: "alice", NoTransport: true}, []string{"peerA!wc", "!" + localFile}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ExecPeer != "peerA" {
		t.Fatalf("ExecPeer = %q, want peerA", res.ExecPeer)
	}

	xfiles, err := sp.ListXFiles()
	if err != nil {
		t.Fatalf("ListXFiles: %v", err)
	}
	if len(xfiles) != 1 {
		t.Fatalf("ListXFiles: got %d, want 1", len(xfiles))
	}
	f, _ := sp.Open(xfiles[0])
	x, err := spool.ParseExecuteFile(f)
	f.Close()
	if err != nil {
		t.Fatalf("ParseExecuteFile: %v", err)
	}
	if len(x.Files) != 1 {
		t.Fatalf("Files = %v, want exactly one F line", x.Files)
	}
	if x.Files[0].Renamed == "" {
		t.Errorf("Files[0].Renamed = %q, want a basename (argv refers to the file by basename)", x.Files[0].Renamed)
	}
	if x.CmdLine != "wc "+x.Files[0].Renamed {
		t.Errorf("CmdLine = %q, want %q", x.CmdLine, "wc "+x.Files[0].Renamed)
	}

	jobs, err := sp.ListWork("peerA", 'z')
	if err != nil {
		t.Fatalf("ListWork: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("ListWork: got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if len(job.Commands) == 0 {
		t.Fatalf("job has no commands")
	}
	for _, c := range job.Commands {
		if c.Cmd == 'S' && c.ZUser != "alice" {
			t.Errorf("S command ZUser = %q, want %q (spec.md §8 scenario 1 requires the user on every S line)", c.ZUser, "alice")
		}
	}
	if job.Commands[0].ZUser != "alice" {
		t.Errorf("Commands[0].ZUser = %q, want %q (uustat -k ownership reads Commands[0])", job.Commands[0].ZUser, "alice")
	}
}

// TestSubmitStdinRemoteExec covers stdin redirected into a remote-exec
// command: the data file must be staged without a rename, and the X-file's
// I line must point straight at the spool D. name (original_source/uux.c's
// finput branch emits F/I with no basename argument).
func TestSubmitStdinRemoteExec(t *testing.T) {
	s, sp, _ := newTestSubmitter(t, "peerA")

	dir := t.TempDir()
	bodyFile := filepath.Join(dir, "body.txt")
	if err := os.WriteFile(bodyFile, []byte("hello\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := s.Submit(context.Background(), Options{User: "alice", NoTransport: true}, []string{"peerA!rmail", "bob", "<" + bodyFile}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	xfiles, err := sp.ListXFiles()
	if err != nil {
		t.Fatalf("ListXFiles: %v", err)
	}
	if len(xfiles) != 1 {
		t.Fatalf("ListXFiles: got %d, want 1", len(xfiles))
	}
	f, _ := sp.Open(xfiles[0])
	x, err := spool.ParseExecuteFile(f)
	f.Close()
	if err != nil {
		t.Fatalf("ParseExecuteFile: %v", err)
	}
	if len(x.Files) != 1 {
		t.Fatalf("Files = %v, want exactly one F line", x.Files)
	}
	if x.Files[0].Renamed != "" {
		t.Errorf("Files[0].Renamed = %q, want empty (stdin is read by spool path, not argv/basename)", x.Files[0].Renamed)
	}
	if x.Input == "" || x.Input != x.Files[0].Name {
		t.Errorf("Input = %q, want it to match the F line's spool name %q", x.Input, x.Files[0].Name)
	}

	jobs, err := sp.ListWork("peerA", 'z')
	if err != nil {
		t.Fatalf("ListWork: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("ListWork: got %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	for _, c := range job.Commands {
		if c.Cmd == 'S' && c.ZUser != "alice" {
			t.Errorf("S command ZUser = %q, want %q", c.ZUser, "alice")
		}
	}
	if job.Commands[0].ZUser != "alice" {
		t.Errorf("Commands[0].ZUser = %q, want %q (uustat -k ownership reads Commands[0])", job.Commands[0].ZUser, "alice")
	}
}

func TestSubmitInvokesTransportForRemoteJob(t *testing.T) {
	s, _, ft := newTestSubmitter(t, "peerA")
	_, err := s.Submit(context.Background(), Options{User: "alice"}, []string{"peerA!rmail", "bob"}, strings.NewReader(""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(ft.spawned) != 1 || ft.spawned[0] != "peerA" {
		t.Errorf("spawned = %v, want [peerA]", ft.spawned)
	}
}
