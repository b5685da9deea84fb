package uustat

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/uucp-go/uucp/internal/mailer"
	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/uerr"
	"github.com/uucp-go/uucp/internal/uuconf"
)

// EntryKind classifies one line of Inspector output.
type EntryKind int

const (
	// KindWork is a plain queued transfer (S/R/X lines with no
	// associated execution request).
	KindWork EntryKind = iota
	// KindExecutionForward is a work job whose S command is forwarding a
	// locally queued X-file to a peer for remote execution.
	KindExecutionForward
	// KindExecuteFile is an X-file present in the spool, awaiting a local
	// uuxqt pass (spec.md §4.6's "execute-file stream").
	KindExecuteFile
)

// Entry is one reportable job, combining a work stream job or a standalone
// execute-file into the form uustat prints and acts on.
type Entry struct {
	JobID       string
	Peer        string
	Grade       byte
	ModTime     time.Time
	Age         time.Duration
	User        string
	Command     string // bare command name, "" when not applicable (plain sends)
	Description string
	Bytes       int64
	Kind        EntryKind

	files []string // every spool-resident file this job owns, for Kill
}

// Inspector answers uustat's queries over a Spool: per-peer work streams,
// the execute-file stream, and per-system status summaries (spec.md §4.6).
type Inspector struct {
	spool  *spool.Spool
	cfg    *uuconf.Config
	mailer *mailer.Mailer
}

// New returns an Inspector over sp, consulting cfg for send-path policy and
// m to deliver -M/-N notifications.
func New(sp *spool.Spool, cfg *uuconf.Config, m *mailer.Mailer) *Inspector {
	return &Inspector{spool: sp, cfg: cfg, mailer: m}
}

func jobFiles(job spool.WorkJob) []string {
	files := []string{job.File}
	for _, c := range job.Commands {
		if c.IsSpoolSource() && spool.IsSpoolFile(c.ZTemp) {
			files = append(files, c.ZTemp)
		}
	}
	return files
}

func describeCommand(sp *spool.Spool, c spool.WorkCommand) string {
	switch c.Cmd {
	case 'S':
		size, _ := sp.Size(c.SourcePath())
		return fmt.Sprintf("Sending %s (%d bytes) to %s", c.ZFrom, size, c.ZTo)
	case 'R', 'X':
		return fmt.Sprintf("Requesting %s to %s", c.ZFrom, c.ZTo)
	default:
		return ""
	}
}

// findExecutionForward reports the S command, if any, in commands that
// forwards a locally queued X-file to a peer: destination name begins with
// "X." and the source is a spool-resident file (original_source/uustat.c's
// "special case of an execution").
func findExecutionForward(commands []spool.WorkCommand) (spool.WorkCommand, bool) {
	for _, c := range commands {
		if c.Cmd == 'S' && strings.HasPrefix(c.ZTo, "X.") && c.IsSpoolSource() {
			return c, true
		}
	}
	return spool.WorkCommand{}, false
}

// WorkEntries returns every per-peer work-stream job passing filter, newest
// last. A job whose S command forwards an X-file is classified and
// described as an execution request rather than a plain transfer.
func (ins *Inspector) WorkEntries(filter Filter, now time.Time) ([]Entry, error) {
	jobs, err := ins.spool.ListWork("", allGrades)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, job := range jobs {
		if !filter.systemAllowed(job.Peer) {
			continue
		}
		mtime, err := ins.spool.FileTime(job.File)
		if err != nil {
			continue
		}
		if !filter.ageAllowed(mtime, now) {
			continue
		}

		if xqt, ok := findExecutionForward(job.Commands); ok {
			entry, matched, err := ins.buildExecutionForwardEntry(job, xqt, mtime, now, filter)
			if err != nil {
				return nil, err
			}
			if matched {
				out = append(out, entry)
			}
			continue
		}

		// A command filter only ever matches the execution-request case
		// above; a plain send/receive job passes only when no command
		// filter was given, or the filter is a negated "ALL" wildcard.
		if len(filter.Commands) > 0 && !(filter.NotCommands && len(filter.Commands) == 1 && filter.Commands[0] == "ALL") {
			continue
		}

		user := ""
		if len(job.Commands) > 0 {
			user = job.Commands[0].ZUser
		}
		if !filter.userAllowed(user) {
			continue
		}

		var descs []string
		var total int64
		for _, c := range job.Commands {
			if d := describeCommand(ins.spool, c); d != "" {
				descs = append(descs, d)
			}
			if c.Cmd == 'S' {
				if size, err := ins.spool.Size(c.SourcePath()); err == nil {
					total += size
				}
			}
		}

		out = append(out, Entry{
			JobID:       job.JobID,
			Peer:        job.Peer,
			Grade:       job.Grade,
			ModTime:     mtime,
			Age:         now.Sub(mtime),
			User:        user,
			Description: strings.Join(descs, "; "),
			Bytes:       total,
			Kind:        KindWork,
			files:       jobFiles(job),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

func (ins *Inspector) buildExecutionForwardEntry(job spool.WorkJob, xqt spool.WorkCommand, mtime, now time.Time, filter Filter) (Entry, bool, error) {
	xpath := xqt.SourcePath()
	if !ins.spool.IsSpoolFile(xpath) {
		return Entry{}, false, nil
	}
	f, err := ins.spool.Open(xpath)
	if err != nil {
		return Entry{}, false, nil
	}
	x, err := spool.ParseExecuteFile(f)
	f.Close()
	if err != nil {
		return Entry{}, false, nil
	}

	cmdName := ""
	if x.HasCommand() {
		cmdName = x.Argv[0]
	}
	if !filter.commandAllowed(cmdName) {
		return Entry{}, false, nil
	}

	user := xqt.ZUser
	if x.HasUser {
		user = x.User
	}
	if !filter.userAllowed(user) {
		return Entry{}, false, nil
	}

	var total int64
	for _, c := range job.Commands {
		if c.Cmd == 'S' {
			if size, err := ins.spool.Size(c.SourcePath()); err == nil {
				total += size
			}
		}
	}

	return Entry{
		JobID:       job.JobID,
		Peer:        job.Peer,
		Grade:       job.Grade,
		ModTime:     mtime,
		Age:         now.Sub(mtime),
		User:        user,
		Command:     cmdName,
		Description: fmt.Sprintf("Executing %s (sending %d bytes)", orDefault(x.CmdLine, cmdName), total),
		Bytes:       total,
		Kind:        KindExecutionForward,
		files:       jobFiles(job),
	}, true, nil
}

// ExecuteEntries returns every X-file present in the spool passing filter,
// the "execute-file stream" spec.md §4.6 lists independently of work-stream
// entries — these are requests already local to this system, waiting for a
// uuxqt pass rather than a send to a peer.
func (ins *Inspector) ExecuteEntries(filter Filter, now time.Time) ([]Entry, error) {
	names, err := ins.spool.ListXFiles()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, xname := range names {
		pn, ok := spool.ParseName(xname)
		if !ok {
			continue
		}
		if !filter.systemAllowed(pn.Peer) {
			continue
		}
		mtime, err := ins.spool.FileTime(xname)
		if err != nil {
			continue
		}
		if !filter.ageAllowed(mtime, now) {
			continue
		}

		f, err := ins.spool.Open(xname)
		if err != nil {
			continue
		}
		x, err := spool.ParseExecuteFile(f)
		f.Close()
		if err != nil {
			continue
		}

		cmdName := ""
		if x.HasCommand() {
			cmdName = x.Argv[0]
		}
		if !filter.commandAllowed(cmdName) {
			continue
		}
		user := x.User
		if !filter.userAllowed(user) {
			continue
		}

		files := []string{xname}
		if x.Input != "" && spool.IsSpoolFile(x.Input) {
			files = append(files, x.Input)
		}
		for _, rf := range x.Files {
			files = append(files, rf.Name)
		}

		out = append(out, Entry{
			JobID:       spool.JobIDFor(pn.Peer, pn.Grade, pn.Seq),
			Peer:        pn.Peer,
			Grade:       pn.Grade,
			ModTime:     mtime,
			Age:         now.Sub(mtime),
			User:        user,
			Command:     cmdName,
			Description: fmt.Sprintf("Will execute %s", orDefault(x.CmdLine, "(no command)")),
			Kind:        KindExecuteFile,
			files:       files,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.Before(out[j].ModTime) })
	return out, nil
}

// AllEntries merges WorkEntries and ExecuteEntries, oldest first — the
// combined listing behind uustat -a.
func (ins *Inspector) AllEntries(filter Filter, now time.Time) ([]Entry, error) {
	work, err := ins.WorkEntries(filter, now)
	if err != nil {
		return nil, err
	}
	exec, err := ins.ExecuteEntries(filter, now)
	if err != nil {
		return nil, err
	}
	all := append(work, exec...)
	sort.Slice(all, func(i, j int) bool { return all[i].ModTime.Before(all[j].ModTime) })
	return all, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// SystemSummary is one peer's line of uustat -q output.
type SystemSummary struct {
	Peer         string
	CommandCount int
	CommandAge   time.Duration
	XCount       int
	XAge         time.Duration
	LastCallTime time.Time
	Status       spool.StatusType
}

// String renders s as spec.md §4.6 describes: "<nC> (<age>) <xC> (<age>)
// <last-call-time> <status-text>", printing "0 secs" for an empty class.
func (s SystemSummary) String() string {
	cAge, xAge := "0 secs", "0 secs"
	if s.CommandCount > 0 {
		cAge = formatAge(s.CommandAge)
	}
	if s.XCount > 0 {
		xAge = formatAge(s.XAge)
	}
	lastCall := "never"
	if !s.LastCallTime.IsZero() {
		lastCall = s.LastCallTime.Format("Jan 2 15:04:05")
	}
	return fmt.Sprintf("%s %dC (%s) %dX (%s) %s %s",
		s.Peer, s.CommandCount, cAge, s.XCount, xAge, lastCall, s.Status.String())
}

// formatAge renders d using the largest whole unit of day/hour/min/sec,
// matching the example in spec.md §4.6 ("1 hour", "50 secs").
func formatAge(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs >= 86400:
		return unitCount(secs/86400, "day")
	case secs >= 3600:
		return unitCount(secs/3600, "hour")
	case secs >= 60:
		return unitCount(secs/60, "min")
	default:
		return unitCount(secs, "sec")
	}
}

func unitCount(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Summaries returns one SystemSummary per peer with queued work, a pending
// X-file, or a recorded call status.
func (ins *Inspector) Summaries(now time.Time) ([]SystemSummary, error) {
	jobs, err := ins.spool.ListWork("", allGrades)
	if err != nil {
		return nil, err
	}
	xnames, err := ins.spool.ListXFiles()
	if err != nil {
		return nil, err
	}

	type acc struct {
		cCount, xCount   int
		cOldest, xOldest time.Time
	}
	peers := map[string]*acc{}
	get := func(name string) *acc {
		a, ok := peers[name]
		if !ok {
			a = &acc{}
			peers[name] = a
		}
		return a
	}

	for _, job := range jobs {
		a := get(job.Peer)
		a.cCount++
		if t, err := ins.spool.FileTime(job.File); err == nil {
			if a.cOldest.IsZero() || t.Before(a.cOldest) {
				a.cOldest = t
			}
		}
	}
	for _, xname := range xnames {
		pn, ok := spool.ParseName(xname)
		if !ok {
			continue
		}
		a := get(pn.Peer)
		a.xCount++
		if t, err := ins.spool.FileTime(xname); err == nil {
			if a.xOldest.IsZero() || t.Before(a.xOldest) {
				a.xOldest = t
			}
		}
	}

	store, err := ins.spool.Status()
	if err != nil {
		return nil, err
	}
	statuses, err := store.All()
	if err != nil {
		return nil, err
	}
	byPeer := make(map[string]spool.SpoolStatus, len(statuses))
	for _, st := range statuses {
		byPeer[st.Peer] = st
		get(st.Peer)
	}

	out := make([]SystemSummary, 0, len(peers))
	for peer, a := range peers {
		st := byPeer[peer]
		summary := SystemSummary{
			Peer:         peer,
			CommandCount: a.cCount,
			XCount:       a.xCount,
			LastCallTime: st.LastAttemptTime,
			Status:       st.Type,
		}
		if a.cCount > 0 {
			summary.CommandAge = now.Sub(a.cOldest)
		}
		if a.xCount > 0 {
			summary.XAge = now.Sub(a.xOldest)
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out, nil
}

func (ins *Inspector) locateExecuteFile(jobid string) (string, spool.ParsedName, bool, error) {
	names, err := ins.spool.ListXFiles()
	if err != nil {
		return "", spool.ParsedName{}, false, err
	}
	for _, name := range names {
		pn, ok := spool.ParseName(name)
		if !ok {
			continue
		}
		if spool.JobIDFor(pn.Peer, pn.Grade, pn.Seq) == jobid {
			return name, pn, true, nil
		}
	}
	return "", spool.ParsedName{}, false, nil
}

// Kill removes every file belonging to jobid. A non-administrator may only
// kill a job it submitted; admin bypasses the ownership check (spec.md
// §4.6: "Non-administrator users may only kill jobs they own").
func (ins *Inspector) Kill(jobid, requestingUser string, admin bool) error {
	if job, ok, err := ins.spool.Locate(jobid); err != nil {
		return err
	} else if ok {
		owner := ""
		if len(job.Commands) > 0 {
			owner = job.Commands[0].ZUser
		}
		if !admin && owner != requestingUser {
			return uerr.New(uerr.KindPermission, "uustat.Kill", fmt.Errorf("not submitted by you"))
		}
		return ins.spool.RemoveJob(jobFiles(job)...)
	}

	name, _, ok, err := ins.locateExecuteFile(jobid)
	if err != nil {
		return err
	}
	if !ok {
		return uerr.New(uerr.KindNotFound, "uustat.Kill", fmt.Errorf("no such job %s", jobid))
	}
	f, err := ins.spool.Open(name)
	if err != nil {
		return err
	}
	x, err := spool.ParseExecuteFile(f)
	f.Close()
	if err != nil {
		return err
	}
	if !admin && x.User != requestingUser {
		return uerr.New(uerr.KindPermission, "uustat.Kill", fmt.Errorf("not submitted by you"))
	}
	files := []string{name}
	if x.Input != "" && spool.IsSpoolFile(x.Input) {
		files = append(files, x.Input)
	}
	for _, rf := range x.Files {
		files = append(files, rf.Name)
	}
	return ins.spool.RemoveJob(files...)
}

// KillMatching kills every entry selected by filter that requestingUser
// owns (or every matching entry, if admin), the mechanism behind -K
// combined with other selectors. It returns the jobids actually killed.
func (ins *Inspector) KillMatching(filter Filter, requestingUser string, admin bool, now time.Time) ([]string, error) {
	entries, err := ins.AllEntries(filter, now)
	if err != nil {
		return nil, err
	}
	var killed []string
	for _, e := range entries {
		if !admin && e.User != requestingUser {
			continue
		}
		if err := ins.spool.RemoveJob(e.files...); err != nil {
			return killed, err
		}
		killed = append(killed, e.JobID)
	}
	return killed, nil
}

// Rejuvenate resets jobid's modification time to now, postponing whatever
// age-based expiry a transport applies (spec.md §4.6's -r option).
func (ins *Inspector) Rejuvenate(jobid string) error {
	if job, ok, err := ins.spool.Locate(jobid); err != nil {
		return err
	} else if ok {
		return ins.spool.TouchJob(job.File)
	}
	name, _, ok, err := ins.locateExecuteFile(jobid)
	if err != nil {
		return err
	}
	if !ok {
		return uerr.New(uerr.KindNotFound, "uustat.Rejuvenate", fmt.Errorf("no such job %s", jobid))
	}
	return ins.spool.TouchJob(name)
}

// pathAllowed reports whether path falls under one of allow's prefixes,
// mirroring internal/uuxqt's send-path check: a notification may only
// quote a job's stdin when the submitting system was allowed to send it.
func pathAllowed(path string, allow []string) bool {
	clean := filepath.Clean(path)
	for _, prefix := range allow {
		if prefix == "ALL" {
			return true
		}
		if clean == prefix || strings.HasPrefix(clean, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// StdinExcerpt returns up to maxLines lines of stdinPath's content, for
// inclusion in a -M/-N notification about a job submitted by peer, and
// whether the excerpt is allowed to be read at all: spool-resident files
// are always readable; a path outside the spool must fall under peer's
// configured SendPaths.
func (ins *Inspector) StdinExcerpt(stdinPath, peer string, maxLines int) (string, bool) {
	if stdinPath == "" || maxLines <= 0 {
		return "", false
	}
	var data []byte
	var err error
	if spool.IsSpoolFile(stdinPath) {
		f, ferr := ins.spool.Open(stdinPath)
		if ferr != nil {
			return "", false
		}
		defer f.Close()
		buf := make([]byte, 64*1024)
		n, _ := f.Read(buf)
		data = buf[:n]
	} else {
		sys, _ := ins.cfg.System(peer)
		if !pathAllowed(stdinPath, sys.SendPaths) {
			return "", false
		}
		data, err = readFileHead(stdinPath, 64*1024)
		if err != nil {
			return "", false
		}
	}
	lines := strings.SplitN(string(data), "\n", maxLines+1)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n"), true
}

func readFileHead(path string, max int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, max)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// NotifyAdmin mails subject/body to the configured UUCP administrator
// address (spec.md §4.6's -M).
func (ins *Inspector) NotifyAdmin(subject, body string) error {
	addr := ins.cfg.AdminAddress
	if addr == "" {
		addr = "uucp"
	}
	return ins.mailer.Send(addr, subject, body)
}

// NotifyRequestor mails subject/body to addr, the job's submitting user.
func (ins *Inspector) NotifyRequestor(addr, subject, body string) error {
	return ins.mailer.Send(addr, subject, body)
}
