package spool

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// RequiredFile is one `F` line: a data file that must be staged in the
// spool before the command runs, optionally renamed into the execute
// directory.
type RequiredFile struct {
	Name    string // spool-resident path (validated against IsSpoolFile by the writer)
	Renamed string // "" if the file is read in place rather than moved
}

// OutputTarget is the `O` line: where standard output goes.
type OutputTarget struct {
	Name string
	Peer string // "" means the executing system itself (spec.md §9's Open Question)
}

// ExecuteFile is the parsed form of an X-file — spec.md §3, §4.3.
//
// Parsing is lenient the way original_source/uuxqt.c's uprocesscmds
// dispatch table is: a repeated I/O/R/M/U line overwrites the previous one
// rather than erroring (the "at most one" invariant is enforced by the
// writer, not the reader), and unrecognized leading characters and `#`
// lines are silently skipped.
type ExecuteFile struct {
	Argv    []string // from the C line
	CmdLine string   // concatenated textual form, space-joined

	Input  string // I line; "" if none
	Output OutputTarget
	HasOutput bool

	Files []RequiredFile

	Requestor string // R line
	HasRequestor bool

	User   string // U line, field 1
	System string // U line, field 2
	HasUser bool

	StatusFile string // M line
	HasStatusFile bool

	ErrorAckOnly bool // Z: mail only if command failed
	NoAck        bool // N: never mail
	SuccessOnly  bool // n: mail only if command succeeded
	ReturnStdin  bool // B: return std input on error
	UseShell     bool // e: execute via shell
	UseExecve    bool // E: execute without shell
}

// HasCommand reports whether a C line was seen.
func (x *ExecuteFile) HasCommand() bool { return len(x.Argv) > 0 }

// ParseExecuteFile reads an X-file from r.
func ParseExecuteFile(r io.Reader) (*ExecuteFile, error) {
	x := &ExecuteFile{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" || line[0] == '#' {
			continue
		}
		letter := line[0]
		var rest string
		if len(line) > 1 {
			if line[1] != ' ' {
				// Not a recognized "<letter> <args>" line; ignore.
				continue
			}
			rest = strings.TrimSpace(line[2:])
		}

		switch letter {
		case 'C':
			argv := strings.Fields(rest)
			if len(argv) == 0 {
				continue
			}
			x.Argv = argv
			x.CmdLine = strings.Join(argv, " ")
		case 'I':
			x.Input = rest
		case 'O':
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				continue
			}
			x.HasOutput = true
			x.Output = OutputTarget{Name: fields[0]}
			if len(fields) > 1 {
				x.Output.Peer = fields[1]
			}
		case 'F':
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				continue
			}
			if !IsSpoolFile(fields[0]) {
				// spec.md §3: "F names must refer to spool-resident files";
				// original_source/uuxqt.c's tqfile silently drops anything
				// else rather than failing the whole X-file.
				continue
			}
			rf := RequiredFile{Name: fields[0]}
			if len(fields) > 1 {
				rf.Renamed = fields[1]
			}
			x.Files = append(x.Files, rf)
		case 'R':
			x.Requestor = rest
			x.HasRequestor = true
		case 'U':
			fields := strings.Fields(rest)
			if len(fields) < 2 {
				return nil, fmt.Errorf("spool: U line: want 2 fields, got %d", len(fields))
			}
			x.User, x.System = fields[0], fields[1]
			x.HasUser = true
		case 'Z':
			x.ErrorAckOnly = true
		case 'N':
			x.NoAck = true
		case 'n':
			x.SuccessOnly = true
		case 'B':
			x.ReturnStdin = true
		case 'e':
			x.UseShell = true
		case 'E':
			x.UseExecve = true
		case 'M':
			x.StatusFile = rest
			x.HasStatusFile = true
		default:
			// Unknown line: ignored per spec.md §3.
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("spool: reading X-file: %w", err)
	}
	return x, nil
}

// ShouldMailOnFailure reports whether a failed command should generate a
// mail notification, applying spec.md §3's "if both Z and N, Z wins" rule.
func (x *ExecuteFile) ShouldMailOnFailure() bool {
	if x.NoAck && !x.ErrorAckOnly {
		return false
	}
	return true
}

// ShouldMailOnSuccess reports whether a successful command should generate
// a mail notification: only when the n flag is set, and never when Z or N
// is also set.
func (x *ExecuteFile) ShouldMailOnSuccess() bool {
	if x.ErrorAckOnly {
		return false
	}
	if x.NoAck {
		return false
	}
	return x.SuccessOnly
}

// Serialize renders x back into X-file text form.
func (x *ExecuteFile) Serialize() (string, error) {
	var b strings.Builder

	if len(x.Argv) > 0 {
		fmt.Fprintf(&b, "C %s\n", strings.Join(x.Argv, " "))
	}
	if x.Input != "" {
		fmt.Fprintf(&b, "I %s\n", x.Input)
	}
	if x.HasOutput {
		if x.Output.Peer != "" {
			fmt.Fprintf(&b, "O %s %s\n", x.Output.Name, x.Output.Peer)
		} else {
			fmt.Fprintf(&b, "O %s\n", x.Output.Name)
		}
	}
	for _, f := range x.Files {
		if f.Renamed != "" {
			fmt.Fprintf(&b, "F %s %s\n", f.Name, f.Renamed)
		} else {
			fmt.Fprintf(&b, "F %s\n", f.Name)
		}
	}
	if x.HasRequestor {
		fmt.Fprintf(&b, "R %s\n", x.Requestor)
	}
	if x.HasUser {
		fmt.Fprintf(&b, "U %s %s\n", x.User, x.System)
	}
	if x.ErrorAckOnly {
		b.WriteString("Z\n")
	}
	if x.NoAck {
		b.WriteString("N\n")
	}
	if x.SuccessOnly {
		b.WriteString("n\n")
	}
	if x.ReturnStdin {
		b.WriteString("B\n")
	}
	if x.UseShell {
		b.WriteString("e\n")
	}
	if x.UseExecve {
		b.WriteString("E\n")
	}
	if x.HasStatusFile {
		fmt.Fprintf(&b, "M %s\n", x.StatusFile)
	}
	return b.String(), nil
}

// WriteExecuteFile writes x to w.
func WriteExecuteFile(w io.Writer, x *ExecuteFile) error {
	s, err := x.Serialize()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	if err != nil {
		return fmt.Errorf("spool: writing X-file: %w", err)
	}
	return nil
}
