package uuxqt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/uucp-go/uucp/internal/mailer"
	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/uuconf"
)

func newTestExecutor(t *testing.T, mutate func(*uuconf.Config)) (*Executor, *spool.Spool, string) {
	t.Helper()
	dir := t.TempDir()
	sp, err := spool.New(dir, "thishost")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	mailDir := t.TempDir()
	cfg := uuconf.Default()
	cfg.LocalName = "thishost"
	cfg.Mailer.LocalMailDir = mailDir
	cfg.DefaultSearchPath = []string{"/bin", "/usr/bin"}
	cfg.Systems = append(cfg.Systems, uuconf.SystemInfo{
		Name:         "peerA",
		Commands:     []string{"echo"},
		ReceivePaths: []string{"/tmp"},
		SendPaths:    []string{"/tmp"},
	})
	if mutate != nil {
		mutate(&cfg)
	}
	m := mailer.New(cfg.Mailer, sp)
	ex := New(sp, &cfg, m, nil)
	return ex, sp, mailDir
}

func writeXFile(t *testing.T, sp *spool.Spool, x *spool.ExecuteFile) string {
	t.Helper()
	xname, _, err := sp.XqtName("peerA", 'N')
	if err != nil {
		t.Fatalf("XqtName: %v", err)
	}
	f, err := sp.Create(xname)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()
	if err := spool.WriteExecuteFile(f, x); err != nil {
		t.Fatalf("WriteExecuteFile: %v", err)
	}
	return xname
}

func TestExecutorDeletesMalformedXFile(t *testing.T) {
	ex, sp, _ := newTestExecutor(t, nil)
	xname := writeXFile(t, sp, &spool.ExecuteFile{HasUser: true, User: "alice", System: "peerA"})

	if err := ex.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sp.IsSpoolFile(xname) {
		t.Errorf("malformed X-file %s should have been deleted", xname)
	}
}

func TestExecutorRejectsDisallowedCommand(t *testing.T) {
	ex, sp, mailDir := newTestExecutor(t, nil)
	xname := writeXFile(t, sp, &spool.ExecuteFile{
		Argv: []string{"forbidden"}, CmdLine: "forbidden",
		HasUser: true, User: "alice", System: "thishost",
	})

	if err := ex.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sp.IsSpoolFile(xname) {
		t.Errorf("rejected X-file %s should have been deleted", xname)
	}
	data, err := os.ReadFile(filepath.Join(mailDir, "alice"))
	if err != nil {
		t.Fatalf("reading mail file: %v", err)
	}
	if !strings.Contains(string(data), "not permitted to execute forbidden") {
		t.Errorf("mail body = %q, want mention of forbidden command", data)
	}
}

func TestExecutorRunsAllowedCommandAndRoutesOutputToForeignPeer(t *testing.T) {
	ex, sp, mailDir := newTestExecutor(t, func(c *uuconf.Config) {
		c.Systems = append(c.Systems, uuconf.SystemInfo{Name: "peerB", Commands: []string{"echo"}})
	})
	xname := writeXFile(t, sp, &spool.ExecuteFile{
		Argv: []string{"echo", "hi"}, CmdLine: "echo hi", UseExecve: true,
		HasUser: true, User: "alice", System: "thishost",
		HasOutput: true, Output: spool.OutputTarget{Name: "result", Peer: "peerB"},
		SuccessOnly: true,
	})

	if err := ex.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sp.IsSpoolFile(xname) {
		t.Errorf("completed X-file %s should have been removed", xname)
	}

	jobs, err := sp.ListWork("peerB", 'Z')
	if err != nil {
		t.Fatalf("ListWork: %v", err)
	}
	if len(jobs) != 1 || len(jobs[0].Commands) != 1 || jobs[0].Commands[0].Cmd != 'S' {
		t.Fatalf("ListWork(peerB) = %+v, want one queued S command", jobs)
	}

	data, err := os.ReadFile(filepath.Join(mailDir, "alice"))
	if err != nil {
		t.Fatalf("reading mail file: %v", err)
	}
	if !strings.Contains(string(data), "Execution succeeded") {
		t.Errorf("mail body = %q, want success notice", data)
	}
}

func TestExecutorLeavesPendingXFileWhenRequiredFileMissing(t *testing.T) {
	ex, sp, _ := newTestExecutor(t, nil)
	xname := writeXFile(t, sp, &spool.ExecuteFile{
		Argv: []string{"echo"}, CmdLine: "echo",
		HasUser: true, User: "alice", System: "peerA",
		Files: []spool.RequiredFile{{Name: "D.peerAN9999"}},
	})

	if err := ex.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !sp.IsSpoolFile(xname) {
		t.Errorf("X-file %s should remain pending while its required file is missing", xname)
	}
}
