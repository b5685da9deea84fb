// Package uuxqt implements the Executor: the uuxqt core that scans a spool
// for X-files, validates them against per-system command and path policy,
// stages their required inputs, runs the named command, and routes its
// output back into the spool when the submitter asked for remote delivery
// (spec.md §4.5).
package uuxqt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/uucp-go/uucp/internal/logging"
	"github.com/uucp-go/uucp/internal/mailer"
	"github.com/uucp-go/uucp/internal/metrics"
	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/uerr"
	"github.com/uucp-go/uucp/internal/uuconf"
)

// Options filters which X-files a Run pass considers, mirroring uuxqt's
// -c and -s flags.
type Options struct {
	Command string // -c: only process X-files whose argv[0] matches
	System  string // -s: only process X-files received from this system
}

// Executor runs X-files found in a spool, subject to the policy in cfg.
type Executor struct {
	spool   *spool.Spool
	cfg     *uuconf.Config
	mailer  *mailer.Mailer
	metrics metrics.Collector
}

// New returns an Executor over sp, governed by cfg, mailing notifications
// through m and recording outcomes to mc.
func New(sp *spool.Spool, cfg *uuconf.Config, m *mailer.Mailer, mc metrics.Collector) *Executor {
	if mc == nil {
		mc = &metrics.NoopCollector{}
	}
	return &Executor{spool: sp, cfg: cfg, mailer: m, metrics: mc}
}

// Run makes one pass over the spool's X-files, per spec.md §4.5's "finite,
// not restartable" iterator: files created after the scan begins are not
// guaranteed to be seen.
func (e *Executor) Run(ctx context.Context, opts Options) error {
	logger := logging.FromContext(ctx)

	names, err := e.spool.ListXFiles()
	if err != nil {
		return err
	}
	for _, xname := range names {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.processOne(ctx, xname, opts); err != nil {
			logger.Error("uuxqt: processing X-file", "file", xname, "error", err)
		}
	}
	return nil
}

func (e *Executor) executeDir() string {
	return filepath.Join(e.spool.Root(), ".Execute")
}

// processOne runs the full validate/stage/run/route pipeline for one
// X-file. Per-file errors are logged by the caller and never abort the
// scan (spec.md §7: "per-X-file errors in Executor: do not abort the
// daemon").
func (e *Executor) processOne(ctx context.Context, xname string, opts Options) error {
	logger := logging.FromContext(ctx)

	pn, ok := spool.ParseName(xname)
	if !ok {
		return fmt.Errorf("uuxqt: %s does not match the X-file grammar", xname)
	}
	senderPeer := pn.Peer

	if opts.System != "" && senderPeer != opts.System {
		return nil
	}

	sysInfo, known := e.cfg.System(senderPeer)
	if !known && !e.cfg.AllowUnknownSystems {
		logger.Warn("uuxqt: skipping X-file from unrecognized system", "file", xname, "system", senderPeer)
		return nil
	}

	f, err := e.spool.Open(xname)
	if err != nil {
		return err
	}
	x, err := spool.ParseExecuteFile(f)
	f.Close()
	if err != nil {
		return err
	}

	if !x.HasCommand() {
		logger.Warn("uuxqt: deleting malformed X-file (no C line)", "file", xname)
		return e.spool.RemoveJob(xname)
	}

	cmdName := x.Argv[0]
	if opts.Command != "" && cmdName != opts.Command {
		return nil
	}

	cmdLock, err := e.spool.LockCommand(cmdName)
	if err != nil {
		return err
	}
	if cmdLock == nil {
		return nil // another uuxqt instance owns this command class
	}
	defer cmdLock.Release()

	fileLock, err := e.spool.LockExecuteFile(xname)
	if err != nil {
		return err
	}
	if fileLock == nil {
		return nil
	}
	defer fileLock.Release()

	for _, rf := range x.Files {
		if !e.spool.IsSpoolFile(rf.Name) {
			// Required input hasn't arrived yet; leave the X-file pending.
			return nil
		}
	}

	needsExecDir := false
	for _, rf := range x.Files {
		if rf.Renamed != "" {
			needsExecDir = true
			break
		}
	}
	var dirLock *spool.Lock
	if needsExecDir {
		if err := os.MkdirAll(e.executeDir(), 0755); err != nil {
			return uerr.New(uerr.KindSpoolIO, "uuxqt.processOne", err)
		}
		dirLock, err = e.spool.LockExecuteDirectory(ctx)
		if err != nil {
			return err
		}
		defer dirLock.Release()
	}

	if !e.cfg.CommandAllowed(senderPeer, cmdName) {
		e.notifyReject(ctx, x, fmt.Sprintf("Your execution request failed because you are not permitted to execute %s", cmdName))
		return e.cleanup(x, xname)
	}

	stdinPath, err := e.resolveStdin(x, sysInfo)
	if err != nil {
		e.notifyReject(ctx, x, fmt.Sprintf("Your execution request failed: %s", err))
		return e.cleanup(x, xname)
	}

	outcome, err := e.resolveStdout(x, senderPeer, sysInfo, pn.Grade)
	if err != nil {
		e.notifyReject(ctx, x, fmt.Sprintf("Your execution request failed: %s", err))
		return e.cleanup(x, xname)
	}

	stdinPath, err = e.stageRenamedFiles(x, stdinPath)
	if err != nil {
		return err
	}

	searchDirs := e.cfg.SearchPathFor(senderPeer)
	start := time.Now()
	result, runErr := e.dispatch(ctx, x, stdinPath, outcome, searchDirs)
	duration := time.Since(start).Seconds()
	e.metrics.CommandExecuted(cmdName, runErr == nil, duration)

	if runErr != nil {
		if outcome.spooled {
			e.spool.RemoveJob(outcome.dataName)
		}
		if x.ShouldMailOnFailure() {
			body := fmt.Sprintf("Execution failed: %s\n\n%s", x.CmdLine, result.stderr)
			e.notifyRequestor(ctx, x, "Execution failed", body)
		}
	} else {
		if x.ShouldMailOnSuccess() {
			e.notifyRequestor(ctx, x, "Execution succeeded", fmt.Sprintf("Execution succeeded: %s", x.CmdLine))
		}
		if outcome.spooled {
			if err := e.queueSpooledOutput(x, outcome, pn.Grade); err != nil {
				return err
			}
		}
	}

	return e.cleanup(x, xname)
}

type dispatchResult struct {
	stderr string
}

// dispatch runs x's command with stdin/stdout bound per resolveStdin and
// resolveStdout, honoring UseShell vs UseExecve (spec.md §4.5 step 14).
func (e *Executor) dispatch(ctx context.Context, x *spool.ExecuteFile, stdinPath string, outcome stdoutOutcome, searchDirs []string) (dispatchResult, error) {
	var cmd *exec.Cmd
	if x.UseShell {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", x.CmdLine)
	} else {
		path, err := resolveExecutable(x.Argv[0], searchDirs)
		if err != nil {
			return dispatchResult{}, err
		}
		cmd = exec.CommandContext(ctx, path, x.Argv[1:]...)
	}

	if needsExecDirFiles(x) {
		cmd.Dir = e.executeDir()
	}

	if stdinPath == "" {
		cmd.Stdin = nil
	} else {
		in, err := os.Open(stdinPath)
		if err != nil {
			return dispatchResult{}, uerr.New(uerr.KindSpoolIO, "uuxqt.dispatch", err)
		}
		defer in.Close()
		cmd.Stdin = in
	}

	var stdout io.Writer = io.Discard
	var outFile *os.File
	if outcome.path != "" {
		f, err := os.OpenFile(outcome.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return dispatchResult{}, uerr.New(uerr.KindSpoolIO, "uuxqt.dispatch", err)
		}
		defer f.Close()
		outFile = f
		stdout = f
	}
	cmd.Stdout = stdout

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if outFile != nil {
		outFile.Sync()
	}
	return dispatchResult{stderr: stderrBuf.String()}, runErr
}

func needsExecDirFiles(x *spool.ExecuteFile) bool {
	for _, f := range x.Files {
		if f.Renamed != "" {
			return true
		}
	}
	return false
}

// stageRenamedFiles moves every F line with a rename target out of the
// spool and into the execute directory under its new name, preserving the
// stdin binding if stdin happens to be one of the renamed files (spec.md
// §4.5 step 13). It returns stdinPath, updated if it pointed at a file
// that just moved.
func (e *Executor) stageRenamedFiles(x *spool.ExecuteFile, stdinPath string) (string, error) {
	for _, rf := range x.Files {
		if rf.Renamed == "" {
			continue
		}
		src := filepath.Join(e.spool.Root(), rf.Name)
		dst := filepath.Join(e.executeDir(), rf.Renamed)
		if err := os.Rename(src, dst); err != nil {
			return stdinPath, uerr.New(uerr.KindSpoolIO, "uuxqt.stageRenamedFiles", err)
		}
		if stdinPath == src {
			stdinPath = dst
		}
	}
	return stdinPath, nil
}

// resolveStdin maps x's I line to a filesystem path the dispatcher can
// open, per spec.md §4.5 step 11.
func (e *Executor) resolveStdin(x *spool.ExecuteFile, sysInfo uuconf.SystemInfo) (string, error) {
	if x.Input == "" {
		return "", nil
	}
	if spool.IsSpoolFile(x.Input) {
		return filepath.Join(e.spool.Root(), x.Input), nil
	}
	if !pathAllowed(x.Input, sysInfo.SendPaths) {
		return "", uerr.New(uerr.KindPermission, "uuxqt.resolveStdin", fmt.Errorf("%s is not in the allowed send list", x.Input))
	}
	return x.Input, nil
}

type stdoutOutcome struct {
	path     string // "" means discard
	spooled  bool   // true if path is a spool D. file destined for a foreign peer
	dataName string
	destPeer string
}

// resolveStdout implements spec.md §4.5 step 12's three cases.
func (e *Executor) resolveStdout(x *spool.ExecuteFile, senderPeer string, sysInfo uuconf.SystemInfo, grade byte) (stdoutOutcome, error) {
	if !x.HasOutput {
		return stdoutOutcome{}, nil
	}
	if x.Output.Peer == "" || x.Output.Peer == e.spool.LocalName() {
		if spool.IsSpoolFile(x.Output.Name) {
			return stdoutOutcome{}, uerr.New(uerr.KindPermission, "uuxqt.resolveStdout", fmt.Errorf("output destination may not be a spool-form name"))
		}
		if !pathAllowed(x.Output.Name, sysInfo.ReceivePaths) {
			return stdoutOutcome{}, uerr.New(uerr.KindPermission, "uuxqt.resolveStdout", fmt.Errorf("%s is not in the allowed receive list", x.Output.Name))
		}
		return stdoutOutcome{path: x.Output.Name}, nil
	}

	dname, err := e.spool.NewDataName(x.Output.Peer, grade)
	if err != nil {
		return stdoutOutcome{}, err
	}
	return stdoutOutcome{
		path:     filepath.Join(e.spool.Root(), dname),
		spooled:  true,
		dataName: dname,
		destPeer: x.Output.Peer,
	}, nil
}

// queueSpooledOutput appends an S work command routing a spooled output
// file to its destination peer, per spec.md §4.5 step 16. The S command's
// zuser is the X-file's submitting user when known, else the literal
// "uucp" (original_source/uuxqt.c:1031-1038's zQuser / "uucp" fallback).
func (e *Executor) queueSpooledOutput(x *spool.ExecuteFile, outcome stdoutOutcome, grade byte) error {
	cname, err := e.spool.NewCommandName(outcome.destPeer, grade)
	if err != nil {
		return err
	}
	cf, err := e.spool.Create(cname)
	if err != nil {
		return err
	}
	defer cf.Close()
	user := x.User
	if user == "" {
		user = "uucp"
	}
	cmds := []spool.WorkCommand{{
		Cmd: 'S', ZFrom: outcome.dataName, ZTo: outcome.dataName, ZUser: user,
		Options: "C", ZTemp: outcome.dataName, Mode: 0644, CBytes: -1,
	}}
	return spool.WriteWorkCommands(cf, cmds)
}

// cleanup removes every spool-resident F file still present (renamed ones
// have already been moved out), then the X-file itself, per spec.md §4.5
// step 17.
func (e *Executor) cleanup(x *spool.ExecuteFile, xname string) error {
	names := make([]string, 0, len(x.Files)+1)
	for _, rf := range x.Files {
		names = append(names, rf.Name)
	}
	names = append(names, xname)
	if x.Input != "" && spool.IsSpoolFile(x.Input) {
		names = append(names, x.Input)
	}
	return e.spool.RemoveJob(names...)
}

func (e *Executor) requestorAddress(x *spool.ExecuteFile) string {
	if x.HasRequestor && x.Requestor != "" {
		return x.Requestor
	}
	if x.System != "" && x.System != e.spool.LocalName() {
		return x.System + "!" + x.User
	}
	return x.User
}

func (e *Executor) notifyRequestor(ctx context.Context, x *spool.ExecuteFile, subject, body string) {
	logger := logging.FromContext(ctx)
	if e.mailer == nil {
		return
	}
	if err := e.mailer.Send(e.requestorAddress(x), subject, body); err != nil {
		logger.Error("uuxqt: mail notification failed", "error", err)
	}
}

func (e *Executor) notifyReject(ctx context.Context, x *spool.ExecuteFile, body string) {
	e.notifyRequestor(ctx, x, "Not permitted", body)
}
