// Command uux submits a remote command execution request into the spool,
// per spec.md §4.4 and the CLI surface in §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uucp-go/uucp/internal/logging"
	"github.com/uucp-go/uucp/internal/mailer"
	"github.com/uucp-go/uucp/internal/metrics"
	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/transport"
	"github.com/uucp-go/uucp/internal/uuconf"
	"github.com/uucp-go/uucp/internal/uux"
)

func main() {
	var (
		requestor   = flag.String("a", "", "requestor address for status mail")
		returnStdin = flag.Bool("b", false, "return command's standard input to the requestor on failure")
		noCopy      = flag.Bool("c", false, "accepted; local files are still copied into the spool")
		forceCopy   = flag.Bool("C", false, "always copy referenced local files into the spool")
		grade       = flag.String("g", "", "job grade, a single character (default N)")
		printJobID  = flag.Bool("j", false, "print the jobid of the submitted job")
		tryLink     = flag.Bool("l", false, "try to link rather than copy local files")
		neverMail   = flag.Bool("n", false, "never mail status to the requestor")
		useStdinP   = flag.Bool("p", false, "copy uux's own standard input in as the command's input")
		noTransport = flag.Bool("r", false, "queue the job only; do not invoke the transport")
		statusFile  = flag.String("s", "", "file to receive job status")
		mailOnFail  = flag.Bool("z", false, "mail the requestor only if the command fails")
		configAlias = flag.String("I", "", "alternate configuration file")
	)
	flag.Bool("W", false, "accepted for compatibility; uux has no interactive confirmation step")
	debugLevel := flag.String("x", "", "debugging level (accepted; maps to -log-level debug)")

	flags := uuconf.ParseFlags()
	if *configAlias != "" {
		flags.ConfigPath = *configAlias
	}
	if *debugLevel != "" {
		flags.LogLevel = "debug"
	}

	rawArgs := flag.Args()
	useStdin := *useStdinP
	if len(rawArgs) > 0 && rawArgs[0] == "-" {
		useStdin = true
		rawArgs = rawArgs[1:]
	}
	if len(rawArgs) == 0 {
		fmt.Fprintln(os.Stderr, "uux: missing command line")
		os.Exit(1)
	}

	cfg, err := uuconf.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uux: error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "uux: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	sp, err := spool.New(cfg.SpoolDir, cfg.LocalName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uux: error opening spool: %v\n", err)
		os.Exit(1)
	}

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.NewRegistry())
	}

	m := mailer.New(cfg.Mailer, sp)
	tr := transport.ExecTransport{}
	submitter := uux.New(sp, &cfg, tr, collector)

	copyMode := uux.CopyIfNeeded
	switch {
	case *forceCopy:
		copyMode = uux.CopyForce
	case *noCopy:
		copyMode = uux.CopyNever
	}

	var gradeByte byte
	if *grade != "" {
		gradeByte = (*grade)[0]
	}

	// The job's submitting user (the U-line/zuser field) is always the
	// local login name, never the -a requestor mail address: original_source/uux.c
	// sets zuser = zsysdep_login_name() unconditionally, while -a only ever
	// feeds zrequestor (the R-line), already threaded separately below.
	requestingUser := ""
	if u, err := user.Current(); err == nil {
		requestingUser = u.Username
	}

	opts := uux.Options{
		Grade:              gradeByte,
		RequestorAddr:      *requestor,
		Copy:               copyMode,
		TryLink:            *tryLink,
		NoTransport:        *noTransport,
		NeverMail:          *neverMail,
		MailOnFailureOnly:  *mailOnFail,
		ReturnStdinOnError: *returnStdin,
		StatusFile:         *statusFile,
		UseStdin:           useStdin,
		User:               requestingUser,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.NewContext(ctx, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, aborting submission", "signal", sig.String())
		cancel()
	}()

	res, err := submitter.Submit(ctx, opts, rawArgs, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uux: %v\n", err)
		os.Exit(1)
	}

	if *printJobID {
		fmt.Println(res.JobID)
	}
	logger.Info("job submitted", "jobid", res.JobID, "exec_peer", res.ExecPeer)
}
