package mailer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/uuconf"
)

func TestParseAddress(t *testing.T) {
	if a := ParseAddress("alice"); a.Peer != "" || a.User != "alice" {
		t.Errorf("ParseAddress(alice) = %+v", a)
	}
	if a := ParseAddress("sys1!bob"); a.Peer != "sys1" || a.User != "bob" {
		t.Errorf("ParseAddress(sys1!bob) = %+v", a)
	}
}

func TestSendLocalAppendsMboxMessage(t *testing.T) {
	maildir := t.TempDir()
	sp, err := spool.New(t.TempDir(), "locname")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	m := New(uuconf.MailerConfig{LocalMailDir: maildir, FromAddress: "uucp"}, sp)

	if err := m.Send("alice", "Execution succeeded", "rnews ran cleanly\n"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(maildir, "alice"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "From uucp ") {
		t.Errorf("mbox message missing From_ line: %q", text)
	}
	if !strings.Contains(text, "Subject: Execution succeeded") {
		t.Errorf("mbox message missing subject: %q", text)
	}
	if !strings.Contains(text, "rnews ran cleanly") {
		t.Errorf("mbox message missing body: %q", text)
	}
}

func TestSendRemoteQueuesRmailJob(t *testing.T) {
	root := t.TempDir()
	sp, err := spool.New(root, "locname")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	m := New(uuconf.MailerConfig{FromAddress: "uucp"}, sp)

	if err := m.Send("sys1!bob", "Execution failed", "forbidden command\n"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	xfiles, err := sp.ListXFiles()
	if err != nil {
		t.Fatalf("ListXFiles: %v", err)
	}
	if len(xfiles) != 1 {
		t.Fatalf("ListXFiles: got %d, want 1", len(xfiles))
	}
	pn, ok := spool.ParseName(xfiles[0])
	if !ok || pn.Peer != "sys1" {
		t.Fatalf("queued X-file peer = %+v, want sys1", pn)
	}

	f, err := sp.Open(xfiles[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	x, err := spool.ParseExecuteFile(f)
	if err != nil {
		t.Fatalf("ParseExecuteFile: %v", err)
	}
	if x.CmdLine != "rmail bob" {
		t.Errorf("CmdLine = %q, want %q", x.CmdLine, "rmail bob")
	}
	if x.Input == "" {
		t.Error("Input should name the spooled message body")
	}
}
