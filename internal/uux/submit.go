package uux

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/uucp-go/uucp/internal/logging"
	"github.com/uucp-go/uucp/internal/metrics"
	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/transport"
	"github.com/uucp-go/uucp/internal/uerr"
	"github.com/uucp-go/uucp/internal/uuconf"
)

// CopyMode records the -c/-C choice. Submit does not consult it: a local
// file argument is materialized into the spool (copied, or hard-linked
// first with -l for local execution) whichever mode is set.
type CopyMode int

const (
	CopyIfNeeded CopyMode = iota // neither -c nor -C given
	CopyForce                    // -C
	CopyNever                    // -c
)

// Options mirrors the uux CLI surface described in spec.md §6.
type Options struct {
	Grade              byte
	RequestorAddr      string // -a
	Copy               CopyMode
	TryLink            bool // -l
	NoTransport        bool // -r: queue only, don't invoke the transport
	NeverMail          bool // -n
	MailOnFailureOnly  bool // -z
	ReturnStdinOnError bool // -b
	StatusFile         string // -s
	UseStdin           bool // -p / "-": copy the submitter's own stdin in
	User               string
}

// Submitter builds jobs from command lines and queues them into the spool.
type Submitter struct {
	spool     *spool.Spool
	cfg       *uuconf.Config
	transport transport.Transport
	metrics   metrics.Collector
}

// New returns a Submitter over sp, configured by cfg, dispatching transport
// calls through tr.
func New(sp *spool.Spool, cfg *uuconf.Config, tr transport.Transport, mc metrics.Collector) *Submitter {
	if mc == nil {
		mc = &metrics.NoopCollector{}
	}
	return &Submitter{spool: sp, cfg: cfg, transport: tr, metrics: mc}
}

// Result describes what Submit queued.
type Result struct {
	JobID       string
	ExecPeer    string // "" if the command runs on the local system
	InvokedPeer string // the peer the transport was told to contact, if any
}

// Submit parses rawArgs as a uux command line and queues the resulting
// job, per spec.md §4.4.
func (s *Submitter) Submit(ctx context.Context, opts Options, rawArgs []string, stdin io.Reader) (Result, error) {
	logger := logging.FromContext(ctx)

	cmdRaw, tokens := Tokenize(rawArgs)
	if cmdRaw == "" {
		return Result{}, uerr.New(uerr.KindSyntax, "uux.Submit", fmt.Errorf("empty command line"))
	}
	execPeer, cmdPath := ParseSystemBang(cmdRaw)
	local := execPeer == "" || execPeer == s.spool.LocalName()
	if local {
		execPeer = ""
	} else if _, ok := s.cfg.System(execPeer); !ok {
		return Result{}, uerr.New(uerr.KindNotFound, "uux.Submit", fmt.Errorf("unknown system %q", execPeer))
	}

	grade := opts.Grade
	if grade == 0 {
		grade = 'N'
	}
	if !spool.IsGradeByte(grade) {
		return Result{}, uerr.New(uerr.KindSyntax, "uux.Submit", fmt.Errorf("invalid grade %q", grade))
	}

	tx := newTransaction(s.spool)
	defer tx.Close()

	argv := []string{cmdPath}
	var workCmds []spool.WorkCommand
	x := &spool.ExecuteFile{
		HasUser: true,
		User:    opts.User,
		System:  s.spool.LocalName(),
	}
	if opts.RequestorAddr != "" {
		x.HasRequestor = true
		x.Requestor = opts.RequestorAddr
	}
	x.NoAck = opts.NeverMail
	x.ErrorAckOnly = opts.MailOnFailureOnly
	x.ReturnStdin = opts.ReturnStdinOnError
	if opts.StatusFile != "" {
		x.HasStatusFile = true
		x.StatusFile = opts.StatusFile
	}

	needsShell := NeedsShell(rawArgs)

	for _, tok := range tokens {
		switch tok.Kind {
		case TokenSeparator:
			needsShell = true
			argv = append(argv, tok.Text)
		case TokenLiteral:
			argv = append(argv, tok.Text)
		case TokenWord:
			peer2, path2 := ParseSystemBang(tok.Text)
			if peer2 == "" && !strings.Contains(tok.Text, "!") {
				// No `!`: literal argv item, untouched (spec.md §4.4).
				argv = append(argv, tok.Text)
				continue
			}
			resolved, err := s.resolveFileArg(tx, x, &workCmds, peer2, path2, execPeer, local, opts.TryLink, grade, opts.User)
			if err != nil {
				return Result{}, err
			}
			argv = append(argv, resolved)
		case TokenRedirectIn:
			if err := s.resolveStdin(tx, x, &workCmds, tok.Text, execPeer, local, opts.TryLink, grade, opts.User); err != nil {
				return Result{}, err
			}
		case TokenRedirectOut:
			if err := s.resolveStdout(x, tok.Text); err != nil {
				return Result{}, err
			}
		}
	}

	if opts.UseStdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return Result{}, uerr.New(uerr.KindSyntax, "uux.Submit", err)
		}
		dname, err := s.spool.NewDataName(peerFor(execPeer), grade)
		if err != nil {
			return Result{}, err
		}
		if err := s.writeSpoolFile(tx, dname, bytes.NewReader(data)); err != nil {
			return Result{}, err
		}
		x.Input = dname
	}

	x.UseShell = needsShell
	x.UseExecve = !needsShell

	x.Argv = argv
	x.CmdLine = strings.Join(argv, " ")

	xname, jobid, err := s.spool.XqtName(peerFor(execPeer), grade)
	if err != nil {
		return Result{}, err
	}
	tx.record(xname)
	xf, err := s.spool.Create(xname)
	if err != nil {
		return Result{}, err
	}
	if err := spool.WriteExecuteFile(xf, x); err != nil {
		xf.Close()
		return Result{}, err
	}
	xf.Close()

	cname, err := s.spool.NewCommandName(peerFor(execPeer), grade)
	if err != nil {
		return Result{}, err
	}
	tx.record(cname)

	if !local {
		workCmds = append(workCmds, spool.WorkCommand{
			Cmd: 'S', ZFrom: xname, ZTo: xname, ZUser: opts.User,
			Options: "C", ZTemp: xname, Mode: 0644, CBytes: -1,
		})
	}

	cf, err := s.spool.Create(cname)
	if err != nil {
		return Result{}, err
	}
	if err := spool.WriteWorkCommands(cf, workCmds); err != nil {
		cf.Close()
		return Result{}, err
	}
	cf.Close()

	tx.commit()
	s.metrics.JobSubmitted(peerFor(execPeer), grade)
	s.metrics.JobQueued(peerFor(execPeer), 1)

	res := Result{JobID: jobid, ExecPeer: execPeer}
	if !opts.NoTransport && !local {
		logger.Info("invoking transport", "peer", execPeer)
		if err := s.transport.Spawn(ctx, transport.SinglePeer(execPeer)); err != nil {
			return res, err
		}
		res.InvokedPeer = execPeer
	}
	return res, nil
}

func peerFor(execPeer string) string {
	if execPeer == "" {
		return "LOCAL"
	}
	return execPeer
}

// resolveFileArg classifies one bang-form token per spec.md §4.4's L1-L4
// cases and returns the argv substitution for it.
func (s *Submitter) resolveFileArg(tx *transaction, x *spool.ExecuteFile, workCmds *[]spool.WorkCommand, peer2, path2, execPeer string, execLocal, tryLink bool, grade byte, user string) (string, error) {
	fileLocal := peer2 == "" || peer2 == s.spool.LocalName()

	switch {
	case fileLocal && execLocal:
		// L1: file is local, execution is local.
		return s.classifyL1(tx, path2, tryLink, grade)
	case fileLocal && !execLocal:
		// L2: file is local, execution is remote.
		return s.classifyL2(tx, x, workCmds, path2, execPeer, grade, user)
	case !fileLocal && peer2 == execPeer:
		// L3: file already resides where the command will run.
		return path2, nil
	default:
		// L4 / rejected forwarding.
		if execLocal {
			return s.classifyL4(tx, x, workCmds, peer2, path2, grade, user)
		}
		return "", uerr.New(uerr.KindSyntax, "uux.Submit", fmt.Errorf("uux forwarding does not yet work"))
	}
}

func (s *Submitter) classifyL1(tx *transaction, path string, tryLink bool, grade byte) (string, error) {
	abspath := absolutize(path)
	dname, err := s.spool.NewDataName("LOCAL", grade)
	if err != nil {
		return "", err
	}
	if err := s.materialize(tx, dname, abspath, tryLink); err != nil {
		return "", err
	}
	return dname, nil
}

// materialize copies (or, with -l, tries to hard-link first) src into the
// spool under name; a failed link falls back to a copy.
func (s *Submitter) materialize(tx *transaction, name, src string, tryLink bool) error {
	dest := filepath.Join(s.spool.Root(), name)
	if tryLink && os.Link(src, dest) == nil {
		tx.record(name)
		return nil
	}
	f, err := os.Open(src)
	if err != nil {
		return uerr.New(uerr.KindSpoolIO, "uux.materialize", err)
	}
	defer f.Close()
	return s.writeSpoolFile(tx, name, f)
}

func (s *Submitter) classifyL2(tx *transaction, x *spool.ExecuteFile, workCmds *[]spool.WorkCommand, path, execPeer string, grade byte, user string) (string, error) {
	abspath := absolutize(path)
	dname, err := s.spool.NewDataName(execPeer, grade)
	if err != nil {
		return "", err
	}
	f, err := os.Open(abspath)
	if err != nil {
		return "", uerr.New(uerr.KindSpoolIO, "uux.classifyL2", err)
	}
	defer f.Close()
	if err := s.writeSpoolFile(tx, dname, f); err != nil {
		return "", err
	}

	basename := filepath.Base(path)
	*workCmds = append(*workCmds, spool.WorkCommand{
		Cmd: 'S', ZFrom: dname, ZTo: dname, ZUser: user,
		Options: "C", ZTemp: dname, Mode: 0644, CBytes: -1,
	})
	x.Files = append(x.Files, spool.RequiredFile{Name: dname, Renamed: basename})
	return basename, nil
}

// classifyStdinL2 handles stdin redirected into a remote-exec command: the
// data file is staged the same way classifyL2 does, but the executor reads
// it by its spool path rather than by argv, so no execute-directory rename
// is requested (original_source/uux.c's finput branch: `uxadd_xqt_line('F',
// abdname, NULL); uxadd_xqt_line('I', abdname, NULL);` — no basename arg).
func (s *Submitter) classifyStdinL2(tx *transaction, x *spool.ExecuteFile, workCmds *[]spool.WorkCommand, path, execPeer string, grade byte, user string) error {
	abspath := absolutize(path)
	dname, err := s.spool.NewDataName(execPeer, grade)
	if err != nil {
		return err
	}
	f, err := os.Open(abspath)
	if err != nil {
		return uerr.New(uerr.KindSpoolIO, "uux.classifyStdinL2", err)
	}
	defer f.Close()
	if err := s.writeSpoolFile(tx, dname, f); err != nil {
		return err
	}

	*workCmds = append(*workCmds, spool.WorkCommand{
		Cmd: 'S', ZFrom: dname, ZTo: dname, ZUser: user,
		Options: "C", ZTemp: dname, Mode: 0644, CBytes: -1,
	})
	x.Files = append(x.Files, spool.RequiredFile{Name: dname})
	x.Input = dname
	return nil
}

func (s *Submitter) classifyL4(tx *transaction, x *spool.ExecuteFile, workCmds *[]spool.WorkCommand, thirdPeer, path string, grade byte, user string) (string, error) {
	abtname, err := s.spool.NewDataName(thirdPeer, grade)
	if err != nil {
		return "", err
	}
	tx.record(abtname)
	*workCmds = append(*workCmds, spool.WorkCommand{
		Cmd: 'R', ZFrom: path, ZTo: abtname, ZUser: user, Options: "9", Mode: 0644, CBytes: -1,
	})
	basename := filepath.Base(path)
	x.Files = append(x.Files, spool.RequiredFile{Name: abtname, Renamed: basename})
	return basename, nil
}

func (s *Submitter) resolveStdin(tx *transaction, x *spool.ExecuteFile, workCmds *[]spool.WorkCommand, path, execPeer string, execLocal, tryLink bool, grade byte, user string) error {
	peer2, path2 := ParseSystemBang(path)
	fileLocal := peer2 == "" || peer2 == s.spool.LocalName()

	switch {
	case fileLocal && execLocal:
		dname, err := s.classifyL1(tx, path2, tryLink, grade)
		if err != nil {
			return err
		}
		x.Input = dname
		return nil
	case fileLocal && !execLocal:
		return s.classifyStdinL2(tx, x, workCmds, path2, execPeer, grade, user)
	case !fileLocal && peer2 == execPeer:
		x.Input = path2
		return nil
	default:
		return uerr.New(uerr.KindSyntax, "uux.Submit", fmt.Errorf("uux forwarding does not yet work"))
	}
}

func (s *Submitter) resolveStdout(x *spool.ExecuteFile, path string) error {
	peer2, path2 := ParseSystemBang(path)
	if spool.IsSpoolFile(path2) {
		return uerr.New(uerr.KindPermission, "uux.Submit", fmt.Errorf("output may not be a spool-form name"))
	}
	x.HasOutput = true
	x.Output = spool.OutputTarget{Name: path2, Peer: peer2}
	return nil
}

func (s *Submitter) writeSpoolFile(tx *transaction, name string, r io.Reader) error {
	f, err := s.spool.Create(name)
	if err != nil {
		return err
	}
	tx.record(name)
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return uerr.New(uerr.KindSpoolIO, "uux.writeSpoolFile", err)
	}
	return nil
}

func absolutize(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
