package spool

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWorkCommandSerializeParseRoundTrip(t *testing.T) {
	tests := []WorkCommand{
		{Cmd: 'S', ZFrom: "/etc/motd", ZTo: "motd", ZUser: "alice", Options: "Cn", ZTemp: "D.sys1S0001", Mode: 0644, Notify: "bob", CBytes: 1024},
		{Cmd: 'S', ZFrom: "/etc/motd", ZTo: "motd", ZUser: "alice", Options: "", ZTemp: "", Mode: 0644, Notify: "", CBytes: -1},
		{Cmd: 'R', ZFrom: "remote.dat", ZTo: "/tmp/local.dat", ZUser: "carol", Options: "d", Mode: 0600, CBytes: 4096},
		{Cmd: 'X', ZFrom: "*.txt", ZTo: "/tmp", ZUser: "dave", Options: ""},
		{Cmd: 'E', ZFrom: "/bin/report", ZTo: "report", ZUser: "erin", Options: "C", ZTemp: "D.sys1S0002", Mode: 0755, Notify: "", CBytes: -1},
		{Cmd: 'H'},
	}
	for _, w := range tests {
		line, err := w.Serialize()
		if err != nil {
			t.Fatalf("Serialize(%+v): %v", w, err)
		}
		got, err := ParseWorkLine(line)
		if err != nil {
			t.Fatalf("ParseWorkLine(%q): %v", line, err)
		}
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("round trip %q mismatch (-want +got):\n%s", line, diff)
		}
	}
}

func TestIsSpoolSource(t *testing.T) {
	w := WorkCommand{Options: "C", ZFrom: "/etc/motd", ZTemp: "D.sys1S0001"}
	if !w.IsSpoolSource() {
		t.Error("Options containing C should mark the command as spool-sourced")
	}
	if w.SourcePath() != "D.sys1S0001" {
		t.Errorf("SourcePath() = %q, want D.sys1S0001", w.SourcePath())
	}

	w2 := WorkCommand{Options: "", ZFrom: "/etc/motd"}
	if w2.IsSpoolSource() {
		t.Error("plain ZFrom with no C option should not be spool-sourced")
	}
	if w2.SourcePath() != "/etc/motd" {
		t.Errorf("SourcePath() = %q, want /etc/motd", w2.SourcePath())
	}
}

func TestParseWorkFileStopsAtSentinel(t *testing.T) {
	text := "S a b c - \"\" 644 \"\"\nS d e f - \"\" 644 \"\"\nH\nS z z z - \"\" 644 \"\"\n"
	cmds, err := ParseWorkFile(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseWorkFile: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("ParseWorkFile: got %d commands, want 2 (stop at H)", len(cmds))
	}
}

func TestWriteWorkCommandsAppendOnly(t *testing.T) {
	var b strings.Builder
	cmds := []WorkCommand{
		{Cmd: 'S', ZFrom: "a", ZTo: "b", ZUser: "c", CBytes: -1},
	}
	if err := WriteWorkCommands(&b, cmds); err != nil {
		t.Fatalf("WriteWorkCommands: %v", err)
	}
	if strings.Contains(b.String(), "H") {
		t.Error("WriteWorkCommands must not emit a sentinel H line")
	}
}
