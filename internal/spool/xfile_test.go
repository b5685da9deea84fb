package spool

import (
	"strings"
	"testing"
)

func TestParseExecuteFileFull(t *testing.T) {
	text := strings.Join([]string{
		"# comment lines are ignored",
		"C rnews",
		"I D.sys1S0001",
		"O /tmp/out sys2",
		"F D.sys1S0002 renamed.dat",
		"F /etc/passwd", // not spool-resident; must be dropped
		"R alice",
		"U bob sys1",
		"Z",
		"B",
		"e",
		"M D.sys1S0003",
		"",
	}, "\n")

	x, err := ParseExecuteFile(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseExecuteFile: %v", err)
	}
	if !x.HasCommand() || x.CmdLine != "rnews" {
		t.Errorf("Argv = %v, want [rnews]", x.Argv)
	}
	if x.Input != "D.sys1S0001" {
		t.Errorf("Input = %q", x.Input)
	}
	if !x.HasOutput || x.Output.Name != "/tmp/out" || x.Output.Peer != "sys2" {
		t.Errorf("Output = %+v", x.Output)
	}
	if len(x.Files) != 1 || x.Files[0].Name != "D.sys1S0002" || x.Files[0].Renamed != "renamed.dat" {
		t.Errorf("Files = %+v, want exactly the spool-resident F line", x.Files)
	}
	if !x.HasRequestor || x.Requestor != "alice" {
		t.Errorf("Requestor = %q", x.Requestor)
	}
	if !x.HasUser || x.User != "bob" || x.System != "sys1" {
		t.Errorf("User/System = %q/%q", x.User, x.System)
	}
	if !x.ErrorAckOnly || !x.ReturnStdin || !x.UseShell {
		t.Errorf("flags: Z=%v B=%v e=%v", x.ErrorAckOnly, x.ReturnStdin, x.UseShell)
	}
	if !x.HasStatusFile || x.StatusFile != "D.sys1S0003" {
		t.Errorf("StatusFile = %q", x.StatusFile)
	}
}

func TestExecuteFileMailRules(t *testing.T) {
	// Z wins over N on failure, per spec.md's flag-composition rule.
	x := &ExecuteFile{ErrorAckOnly: true, NoAck: true}
	if !x.ShouldMailOnFailure() {
		t.Error("Z set: should still mail on failure even if N is also set")
	}
	if x.ShouldMailOnSuccess() {
		t.Error("Z set: should never mail on success")
	}

	y := &ExecuteFile{NoAck: true}
	if y.ShouldMailOnFailure() || y.ShouldMailOnSuccess() {
		t.Error("N alone: should never mail")
	}

	z := &ExecuteFile{}
	if !z.ShouldMailOnFailure() || z.ShouldMailOnSuccess() {
		t.Error("no flags: should mail on failure only, matching traditional default behavior")
	}
}

func TestExecuteFileSerializeParseRoundTrip(t *testing.T) {
	x := &ExecuteFile{
		Argv:         []string{"rmail", "alice"},
		CmdLine:      "rmail alice",
		Input:        "D.sys1S0001",
		HasOutput:    true,
		Output:       OutputTarget{Name: "/tmp/out"},
		Files:        []RequiredFile{{Name: "D.sys1S0002"}},
		HasUser:      true,
		User:         "bob",
		System:       "sys1",
		ReturnStdin:  true,
		UseExecve:    true,
	}
	text, err := x.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := ParseExecuteFile(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseExecuteFile(serialized): %v", err)
	}
	if got.CmdLine != x.CmdLine || got.Input != x.Input || !got.HasOutput || got.Output.Name != x.Output.Name {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Files) != 1 || got.Files[0].Name != "D.sys1S0002" {
		t.Errorf("Files round trip: %+v", got.Files)
	}
	if !got.ReturnStdin || !got.UseExecve {
		t.Errorf("flag round trip: B=%v E=%v", got.ReturnStdin, got.UseExecve)
	}
}
