package spool

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WorkCommand is a single line of a work (C.) file — spec.md §3/§6.
//
// All command letters share one field layout (mirroring the single `struct
// scmd` the original C implementation uses for every line type, see
// original_source/uustat.c's uniform `s.zfrom`/`s.zto`/... access regardless
// of `s.bcmd`); which fields are meaningful depends on Cmd. `E` ("send with
// execution on peer") is not independently specified beyond its letter in
// spec.md §3's table, so it is given the same field layout as `S` here.
type WorkCommand struct {
	Cmd     byte   // 'S', 'R', 'X', 'E', or 'H' (sentinel)
	ZFrom   string
	ZTo     string
	ZUser   string
	Options string
	ZTemp   string // "" serializes as the literal `""`, meaning "none"
	Mode    int    // file mode; 0 if unused (e.g. for X)
	Notify  string // "" serializes as the literal `""`, meaning "none"
	CBytes  int64  // -1 means "unknown"
}

// IsSpoolSource reports whether w's actual transfer source is a spool-local
// temp file rather than the original path, per spec.md §3's invariant: true
// when Options contains 'C' or when ZFrom already names a spool file.
func (w WorkCommand) IsSpoolSource() bool {
	return strings.ContainsRune(w.Options, 'C') || IsSpoolFile(w.ZFrom)
}

// SourcePath returns the actual path bytes should be read from: ZTemp when
// IsSpoolSource is true, else ZFrom.
func (w WorkCommand) SourcePath() string {
	if w.IsSpoolSource() {
		return w.ZTemp
	}
	return w.ZFrom
}

func quoteField(s string) string {
	if s == "" {
		return `""`
	}
	return s
}

func unquoteField(s string) string {
	if s == `""` {
		return ""
	}
	return s
}

// Serialize renders w as a single work-file line, without trailing newline.
func (w WorkCommand) Serialize() (string, error) {
	var b strings.Builder
	b.WriteByte(w.Cmd)

	switch w.Cmd {
	case 'H':
		return b.String(), nil
	case 'S', 'E':
		fmt.Fprintf(&b, " %s %s %s %s %s %o %s",
			w.ZFrom, w.ZTo, w.ZUser, orDash(w.Options), quoteField(w.ZTemp), w.Mode, quoteField(w.Notify))
		if w.CBytes >= 0 {
			fmt.Fprintf(&b, " %d", w.CBytes)
		}
		return b.String(), nil
	case 'R':
		fmt.Fprintf(&b, " %s %s %s %s %o %d",
			w.ZFrom, w.ZTo, w.ZUser, orDash(w.Options), w.Mode, w.CBytes)
		return b.String(), nil
	case 'X':
		fmt.Fprintf(&b, " %s %s %s %s", w.ZFrom, w.ZTo, w.ZUser, orDash(w.Options))
		return b.String(), nil
	default:
		return "", fmt.Errorf("spool: serialize work command: unknown command %q", string(w.Cmd))
	}
}

func orDash(options string) string {
	if options == "" {
		return "-"
	}
	return options
}

// ParseWorkLine parses a single work-file line (no trailing newline).
func ParseWorkLine(line string) (WorkCommand, error) {
	if line == "" {
		return WorkCommand{}, fmt.Errorf("spool: empty work line")
	}
	fields := strings.Fields(line)
	cmd := fields[0][0]
	args := fields[1:]
	if len(fields[0]) > 1 {
		// Defensive: command letter must stand alone.
		return WorkCommand{}, fmt.Errorf("spool: malformed work line %q", line)
	}

	w := WorkCommand{Cmd: cmd}

	switch cmd {
	case 'H':
		return w, nil
	case 'S', 'E':
		w.CBytes = -1
		if len(args) < 6 {
			return WorkCommand{}, fmt.Errorf("spool: %c line: want at least 6 fields, got %d", cmd, len(args))
		}
		w.ZFrom, w.ZTo, w.ZUser = args[0], args[1], args[2]
		w.Options = dashToEmpty(args[3])
		w.ZTemp = unquoteField(args[4])
		mode, err := strconv.ParseInt(args[5], 8, 32)
		if err != nil {
			return WorkCommand{}, fmt.Errorf("spool: %c line: bad mode %q: %w", cmd, args[5], err)
		}
		w.Mode = int(mode)
		if len(args) > 6 {
			w.Notify = unquoteField(args[6])
		}
		if len(args) > 7 {
			n, err := strconv.ParseInt(args[7], 10, 64)
			if err != nil {
				return WorkCommand{}, fmt.Errorf("spool: %c line: bad byte count %q: %w", cmd, args[7], err)
			}
			w.CBytes = n
		}
		return w, nil
	case 'R':
		if len(args) < 6 {
			return WorkCommand{}, fmt.Errorf("spool: R line: want 6 fields, got %d", len(args))
		}
		w.ZFrom, w.ZTo, w.ZUser = args[0], args[1], args[2]
		w.Options = dashToEmpty(args[3])
		mode, err := strconv.ParseInt(args[4], 8, 32)
		if err != nil {
			return WorkCommand{}, fmt.Errorf("spool: R line: bad mode %q: %w", args[4], err)
		}
		w.Mode = int(mode)
		n, err := strconv.ParseInt(args[5], 10, 64)
		if err != nil {
			return WorkCommand{}, fmt.Errorf("spool: R line: bad byte count %q: %w", args[5], err)
		}
		w.CBytes = n
		return w, nil
	case 'X':
		if len(args) < 4 {
			return WorkCommand{}, fmt.Errorf("spool: X line: want 4 fields, got %d", len(args))
		}
		w.ZFrom, w.ZTo, w.ZUser = args[0], args[1], args[2]
		w.Options = dashToEmpty(args[3])
		return w, nil
	default:
		return WorkCommand{}, fmt.Errorf("spool: unknown work command %q", string(cmd))
	}
}

func dashToEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// ParseWorkFile reads every WorkCommand from r, stopping at EOF or a
// sentinel `H` line (whichever comes first). Blank lines are skipped.
func ParseWorkFile(r io.Reader) ([]WorkCommand, error) {
	var cmds []WorkCommand
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" {
			continue
		}
		w, err := ParseWorkLine(line)
		if err != nil {
			return nil, err
		}
		if w.Cmd == 'H' {
			break
		}
		cmds = append(cmds, w)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("spool: reading work file: %w", err)
	}
	return cmds, nil
}

// WriteWorkCommands appends each command as a line to w, each terminated by
// '\n'. It does not write the sentinel H line; callers append one command
// at a time to an open work file, matching spec.md §4.2's append-only model.
func WriteWorkCommands(w io.Writer, cmds []WorkCommand) error {
	for _, c := range cmds {
		line, err := c.Serialize()
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return fmt.Errorf("spool: writing work file: %w", err)
		}
	}
	return nil
}
