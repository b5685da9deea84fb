// Command uustat lists, kills, and rejuvenates queued jobs and reports
// per-system queue statistics, per spec.md §4.6 and the CLI surface in §6.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uucp-go/uucp/internal/logging"
	"github.com/uucp-go/uucp/internal/mailer"
	"github.com/uucp-go/uucp/internal/metrics"
	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/uuconf"
	"github.com/uucp-go/uucp/internal/uustat"
)

func main() {
	var (
		all         = flag.Bool("a", false, "list all jobs")
		excerptN    = flag.Int("B", 0, "print this many lines of each listed job's stdin (not added to -M/-N notifications)")
		cmdFilter   multiFlag
		cmdExclude  multiFlag
		execJobs    = flag.Bool("e", false, "list execute jobs rather than command requests")
		interactive = flag.Bool("i", false, "interactively confirm each kill")
		configAlias = flag.String("I", "", "alternate configuration file")
		killJob     = flag.String("k", "", "kill the specified jobid")
		killMatch   = flag.Bool("K", false, "kill every job matching the other selectors")
		machines    = flag.Bool("m", false, "report status for all remote machines")
		mailAdmin   = flag.Bool("M", false, "mail the uucp administrator about each job killed")
		mailUser    = flag.Bool("N", false, "mail the requestor about each job killed")
		oldHours    = flag.Int("o", -1, "select jobs at least this many hours old")
		_           = flag.Bool("p", false, "show status of processes holding spool locks (not implemented; external OS concern)")
		queueCounts = flag.Bool("q", false, "list number of jobs queued for each system")
		quiet       = flag.Bool("Q", false, "don't list jobs, just take the -k/-K/-M/-N actions")
		rejuvJob    = flag.String("r", "", "rejuvenate the specified jobid")
		sysFilter   multiFlag
		sysExclude  multiFlag
		userFilter  multiFlag
		userExclude multiFlag
		_           = flag.String("W", "", "comment for a kill notification (accepted; not included in notifications)")
		youngHours  = flag.Int("y", -1, "select jobs at most this many hours old")
	)
	flag.Var(&cmdFilter, "c", "restrict to jobs running this command (repeatable)")
	flag.Var(&cmdExclude, "C", "exclude jobs running this command (repeatable)")
	flag.Var(&sysFilter, "s", "restrict to jobs for this system (repeatable)")
	flag.Var(&sysExclude, "S", "exclude jobs for this system (repeatable)")
	flag.Var(&userFilter, "u", "restrict to jobs submitted by this user (repeatable)")
	flag.Var(&userExclude, "U", "exclude jobs submitted by this user (repeatable)")
	debugLevel := flag.String("x", "", "debugging level (accepted; maps to -log-level debug)")

	flags := uuconf.ParseFlags()
	if *configAlias != "" {
		flags.ConfigPath = *configAlias
	}
	if *debugLevel != "" {
		flags.LogLevel = "debug"
	}

	// "too many options" rule (spec.md §6): at most one of -a, -k/-r, -m
	// and -q may be given. -p and the listing selectors are not counted.
	groups := 0
	if *all {
		groups++
	}
	if *killJob != "" || *rejuvJob != "" {
		groups++
	}
	if *machines {
		groups++
	}
	if *queueCounts {
		groups++
	}
	if groups > 1 {
		fmt.Fprintln(os.Stderr, "uustat: too many options: -a, -k/-r, -m, and -q are mutually exclusive")
		os.Exit(1)
	}

	cfg, err := uuconf.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uustat: error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "uustat: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Debug("uustat starting", "spool", cfg.SpoolDir, "local_name", cfg.LocalName)

	sp, err := spool.New(cfg.SpoolDir, cfg.LocalName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uustat: error opening spool: %v\n", err)
		os.Exit(1)
	}

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.NewRegistry())
	}

	m := mailer.New(cfg.Mailer, sp)
	ins := uustat.New(sp, &cfg, m)

	requestingUser := currentUser()
	admin := os.Geteuid() == 0

	now := time.Now()
	failed := false

	// -k/-r: act on an exact jobid, ignoring every other selector.
	if *killJob != "" {
		peer := ""
		if job, ok, _ := sp.Locate(*killJob); ok {
			peer = job.Peer
		}
		if err := killOne(ins, *killJob, requestingUser, admin, *mailAdmin, *mailUser); err != nil {
			fmt.Fprintf(os.Stderr, "uustat: %v\n", err)
			failed = true
		} else {
			collector.JobQueued(peer, -1)
		}
		exit(failed)
	}
	if *rejuvJob != "" {
		if err := ins.Rejuvenate(*rejuvJob); err != nil {
			fmt.Fprintf(os.Stderr, "uustat: %v\n", err)
			failed = true
		}
		exit(failed)
	}

	filter := uustat.Filter{
		Systems:     sysFilter.values,
		NotSystems:  false,
		Users:       userFilter.values,
		NotUsers:    false,
		Commands:    cmdFilter.values,
		NotCommands: false,
		OldHours:    *oldHours,
		YoungHours:  *youngHours,
	}
	if len(sysExclude.values) > 0 {
		filter.Systems = sysExclude.values
		filter.NotSystems = true
	}
	if len(userExclude.values) > 0 {
		filter.Users = userExclude.values
		filter.NotUsers = true
	}
	if len(cmdExclude.values) > 0 {
		filter.Commands = cmdExclude.values
		filter.NotCommands = true
	}

	// -m: report per-system status only (a synonym of -q's format, per
	// the shared "status summary" view spec.md §4.6 describes once).
	if *machines || *queueCounts {
		summaries, err := ins.Summaries(now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uustat: %v\n", err)
			os.Exit(1)
		}
		for _, s := range summaries {
			fmt.Println(s.String())
		}
		return
	}

	if *killMatch {
		before, _ := ins.AllEntries(filter, now)
		peerOf := make(map[string]string, len(before))
		for _, e := range before {
			peerOf[e.JobID] = e.Peer
		}

		killed, err := ins.KillMatching(filter, requestingUser, admin, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "uustat: %v\n", err)
			failed = true
		}
		for _, jobid := range killed {
			collector.JobQueued(peerOf[jobid], -1)
			if *mailAdmin {
				ins.NotifyAdmin("Job killed", fmt.Sprintf("Job %s was killed by %s", jobid, requestingUser))
			}
			fmt.Printf("job %s killed\n", jobid)
		}
		exit(failed)
	}

	if *quiet {
		return
	}

	var entries []uustat.Entry
	switch {
	case *all:
		entries, err = ins.AllEntries(filter, now)
	case *execJobs:
		entries, err = ins.ExecuteEntries(filter, now)
	default:
		entries, err = ins.WorkEntries(filter, now)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "uustat: %v\n", err)
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)
	for _, e := range entries {
		fmt.Printf("%s %s %s %s\n", e.JobID, e.Peer, e.User, e.Description)
		if *excerptN > 0 {
			if excerpt, ok := stdinExcerpt(sp, ins, e, *excerptN); ok {
				fmt.Println(excerpt)
			}
		}
		if *interactive {
			fmt.Printf("kill %s? [y/N] ", e.JobID)
			line, _ := reader.ReadString('\n')
			if strings.TrimSpace(strings.ToLower(line)) != "y" {
				continue
			}
			if err := ins.Kill(e.JobID, requestingUser, admin); err != nil {
				fmt.Fprintf(os.Stderr, "uustat: %v\n", err)
				failed = true
				continue
			}
			collector.JobQueued(e.Peer, -1)
		}
	}
	exit(failed)
}

func killOne(ins *uustat.Inspector, jobid, requestingUser string, admin, mailAdmin, mailUser bool) error {
	if err := ins.Kill(jobid, requestingUser, admin); err != nil {
		return err
	}
	if mailAdmin {
		ins.NotifyAdmin("Job killed", fmt.Sprintf("Job %s was killed by %s", jobid, requestingUser))
	}
	if mailUser {
		ins.NotifyRequestor(requestingUser, "Job killed", fmt.Sprintf("Your job %s was killed", jobid))
	}
	fmt.Printf("job %s killed\n", jobid)
	return nil
}

// stdinExcerpt locates e's underlying work job and returns up to maxLines
// lines of its first send command's source file, for -B. The excerpt is
// printed under each listed job; the -M/-N kill notifications do not
// include it.
func stdinExcerpt(sp *spool.Spool, ins *uustat.Inspector, e uustat.Entry, maxLines int) (string, bool) {
	job, ok, err := sp.Locate(e.JobID)
	if err != nil || !ok {
		return "", false
	}
	for _, c := range job.Commands {
		if c.Cmd == 'S' {
			return ins.StdinExcerpt(c.SourcePath(), job.Peer, maxLines)
		}
	}
	return "", false
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func exit(failed bool) {
	if failed {
		os.Exit(1)
	}
	os.Exit(0)
}

// multiFlag accumulates repeated -c/-C/-s/-S/-u/-U occurrences into a list,
// the same OR-of-repeats shape original_source/uustat.c's getopt loop
// builds for these selectors.
type multiFlag struct {
	values []string
}

func (m *multiFlag) String() string {
	return strings.Join(m.values, ",")
}

func (m *multiFlag) Set(v string) error {
	m.values = append(m.values, v)
	return nil
}
