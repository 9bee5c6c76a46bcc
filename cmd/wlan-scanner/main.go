package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TakashiAihara/wlan-scanner/internal/config"
	"github.com/TakashiAihara/wlan-scanner/internal/diag"
	"github.com/TakashiAihara/wlan-scanner/internal/logging"
	"github.com/TakashiAihara/wlan-scanner/internal/preflight"
	"github.com/TakashiAihara/wlan-scanner/internal/runtime"
)

// version is overridden at link time.
var version = "dev"

var errPreflightFailed = errors.New("prerequisite checks failed")

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:], commandDeps{})
	case "check":
		err = check(ctx, os.Args[2:], commandDeps{})
	case "init-config":
		err = initConfig(os.Args[2:], os.Stdout)
	case "diag":
		err = diag.Run(ctx, os.Args[2:], diag.Dependencies{})
	case "version", "--version":
		fmt.Printf("wlan-scanner %s\n", version)
		return
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps configuration problems to 2 and everything else to 1.
func exitCode(err error) int {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return 2
	}
	return 1
}

// commandDeps lets tests replace the system-facing parts of a command.
type commandDeps struct {
	Runtime runtime.Dependencies
	Stdout  io.Writer
	// LogOutput replaces stdout as the console log destination.
	LogOutput io.Writer
}

func (d commandDeps) stdout() io.Writer {
	if d.Stdout == nil {
		return os.Stdout
	}
	return d.Stdout
}

func run(ctx context.Context, args []string, deps commandDeps) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	opts := registerFlags(fs)
	skipPreflight := fs.Bool("skip-preflight", false, "Start measuring without checking prerequisites")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := loadConfig(ctx, fs, opts)
	if err != nil {
		return err
	}

	if len(runtime.EnabledProbes(cfg)) == 0 {
		return errors.New("no probes enabled; check run.tests and the probe sections of the configuration")
	}

	logger, err := newLogger(cfg, deps.LogOutput)
	if err != nil {
		return err
	}
	logger.WithField("config", path).Info("wlan-scanner starting")

	rtDeps := deps.Runtime
	rtDeps.Logger = logger
	rt, err := runtime.New(ctx, cfg, rtDeps)
	if err != nil {
		return fmt.Errorf("assemble run: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.WithError(err).Warn("close sinks")
		}
	}()

	if !*skipPreflight {
		report := rt.Preflight(ctx, rtDeps)
		for _, res := range report.Results {
			entry := logger.WithFields(logrus.Fields{"check": res.Name, "elapsed": res.Elapsed})
			if res.Passed {
				entry.Debug("prerequisite ok")
			} else {
				entry.WithField("detail", res.Detail).Error("prerequisite failed")
			}
		}
		if !report.Passed() {
			return fmt.Errorf("%w: %s", errPreflightFailed, strings.Join(report.Issues(), "; "))
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-sigCtx.Done():
			// Restores default handling, so a second interrupt kills the process.
			stop()
			rt.Stop()
			logger.Warn("interrupt received, finishing the current cycle (interrupt again to exit immediately)")
		case <-finished:
		}
	}()

	runErr := rt.Run(sigCtx)
	printSummary(deps.stdout(), rt.Summary())
	return runErr
}

func check(ctx context.Context, args []string, deps commandDeps) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	opts := registerFlags(fs)
	configOnly := fs.Bool("config-only", false, "Only validate the configuration")
	timeout := fs.Duration("check-timeout", 10*time.Second, "Per-check timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	out := deps.stdout()
	cfg, path, err := loadConfig(ctx, fs, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "configuration %s: ok\n", path)
	if *configOnly {
		return nil
	}

	enabled := runtime.EnabledProbes(cfg)
	var names []string
	for _, k := range enabled.Kinds() {
		names = append(names, string(k))
	}
	fmt.Fprintf(out, "enabled probes: %s\n", strings.Join(names, ", "))

	report := preflight.Run(ctx, runtime.Checks(cfg, enabled, deps.Runtime), *timeout)
	for _, res := range report.Results {
		mark := "ok"
		if !res.Passed {
			mark = "FAIL " + res.Detail
		}
		fmt.Fprintf(out, "  %-24s %s\n", res.Name, mark)
	}
	if !report.Passed() {
		return fmt.Errorf("%w: %d of %d", errPreflightFailed, len(report.Issues()), len(report.Results))
	}
	return nil
}

func initConfig(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	path := fs.String("config", "", "Where to write the configuration (default $WLAN_SCANNER_CONFIG or "+config.DefaultConfigPath+")")
	force := fs.Bool("force", false, "Overwrite an existing file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	target := config.ResolvePath(*path)
	if err := config.WriteDefault(target, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote default configuration to %s\n", target)
	return nil
}

func newLogger(cfg config.Config, out io.Writer) (*logrus.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Stdout:     out,
	})
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return logger, nil
}

func printSummary(w io.Writer, s runtime.Summary) {
	last := s.LastWritten
	if last == "" {
		last = "none"
	}
	state := "completed"
	if s.Cancelled {
		state = "interrupted"
	}
	fmt.Fprintf(w, "run %s %s: %d measurement(s) in %s, last record %s\n",
		s.RunID, state, s.Iterations, s.Elapsed.Round(time.Millisecond), last)
}

func printUsage() {
	fmt.Println("Usage: wlan-scanner <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run           Run measurement cycles and append records to the configured sinks")
	fmt.Println("  check         Validate the configuration and check probe prerequisites")
	fmt.Println("  init-config   Write a default configuration file")
	fmt.Println("  diag          Collect a diagnostics bundle")
	fmt.Println("  version       Print the version")
	fmt.Println()
	fmt.Println("Run 'wlan-scanner <command> -h' for command options.")
}
