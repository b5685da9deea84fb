// Command uuxqt scans a spool for execute files and runs them, per
// spec.md §4.5 and the CLI surface in §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uucp-go/uucp/internal/logging"
	"github.com/uucp-go/uucp/internal/mailer"
	"github.com/uucp-go/uucp/internal/metrics"
	"github.com/uucp-go/uucp/internal/spool"
	"github.com/uucp-go/uucp/internal/uuconf"
	"github.com/uucp-go/uucp/internal/uuxqt"
)

func main() {
	var (
		command     = flag.String("c", "", "only process execute files whose command matches")
		system      = flag.String("s", "", "only process execute files received from this system")
		configAlias = flag.String("I", "", "alternate configuration file")
	)
	debugLevel := flag.String("x", "", "debugging level (accepted; maps to -log-level debug)")

	flags := uuconf.ParseFlags()
	if *configAlias != "" {
		flags.ConfigPath = *configAlias
	}
	if *debugLevel != "" {
		flags.LogLevel = "debug"
	}

	cfg, err := uuconf.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uuxqt: error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "uuxqt: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	sp, err := spool.New(cfg.SpoolDir, cfg.LocalName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uuxqt: error opening spool: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(reg)
	}

	m := mailer.New(cfg.Mailer, sp)
	executor := uuxqt.New(sp, &cfg, m, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.NewContext(ctx, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, stopping after the current file", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path, reg)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	opts := uuxqt.Options{Command: *command, System: *system}
	if err := executor.Run(ctx, opts); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "uuxqt: %v\n", err)
		os.Exit(1)
	}
}
