package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/config"
	"github.com/TakashiAihara/wlan-scanner/internal/probe/latency"
	"github.com/TakashiAihara/wlan-scanner/internal/runtime"
	"github.com/TakashiAihara/wlan-scanner/internal/scheduler"
)

type replyPinger struct{}

func (replyPinger) Ping(ctx context.Context, ip net.IP, seq, size int, timeout time.Duration) (time.Duration, error) {
	return 3 * time.Millisecond, nil
}

func (replyPinger) Close() error { return nil }

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	outDir := filepath.Join(dir, "results")
	path := filepath.Join(dir, "config.yaml")
	full := "radio:\n  enabled: false\n" +
		"latency:\n  targets: [\"127.0.0.1\"]\n  count: 2\n  interval: 1ms\n" +
		"output:\n  directory: " + outDir + "\n" + body
	if err := os.WriteFile(path, []byte(full), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, outDir
}

func testDeps(stdout io.Writer) commandDeps {
	return commandDeps{
		Stdout:    stdout,
		LogOutput: io.Discard,
		Runtime: runtime.Dependencies{
			Latency: latency.Dependencies{
				Resolve: func(ctx context.Context, host string) (net.IP, error) { return net.ParseIP(host), nil },
				Listen:  func(bool) (latency.Pinger, error) { return replyPinger{}, nil },
			},
		},
	}
}

func TestRunCommandWritesRecords(t *testing.T) {
	path, outDir := writeConfig(t, "")
	var out bytes.Buffer
	args := []string{
		"--config", path,
		"--continuous",
		"--max-measurements", "2",
		"--interval", "10ms",
		"--location", "floor-3",
		"--device", "bench-laptop",
	}
	if err := run(context.Background(), args, testDeps(&out)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "completed: 2 measurement(s)") {
		t.Fatalf("expected a run summary, got %q", out.String())
	}

	f, err := os.Open(filepath.Join(outDir, "wlan_measurements.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(rows))
	}
	row := map[string]string{}
	for i, col := range rows[0] {
		row[col] = rows[2][i]
	}
	if row["location"] != "floor-3" || row["device"] != "bench-laptop" || row["ping_avg_rtt"] != "3.000" {
		t.Fatalf("unexpected row %v", row)
	}
	if !strings.HasSuffix(row["measurement_id"], "-0002") {
		t.Fatalf("unexpected measurement id %q", row["measurement_id"])
	}
}

func TestRunCommandRejectsInvalidOverrides(t *testing.T) {
	path, _ := writeConfig(t, "")
	err := run(context.Background(), []string{"--config", path, "--tests", "latency,bogus", "--ping-count", "0"}, testDeps(io.Discard))
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected both problems reported, got %v", verr.Problems)
	}
	if exitCode(err) != 2 {
		t.Fatalf("expected exit code 2 got %d", exitCode(err))
	}
}

func TestRunCommandWithoutProbes(t *testing.T) {
	path, _ := writeConfig(t, "")
	err := run(context.Background(), []string{"--config", path, "--tests", "tcp"}, testDeps(io.Discard))
	if err == nil || !strings.Contains(err.Error(), "no probes enabled") {
		t.Fatalf("expected no probes error, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1 got %d", exitCode(err))
	}
}

func TestExitCodeForSinkError(t *testing.T) {
	err := &scheduler.SinkError{RecordID: "1a2b3c4d-0003", LastWritten: "1a2b3c4d-0002", Err: errors.New("disk full")}
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1 got %d", exitCode(err))
	}
}

func TestCheckCommand(t *testing.T) {
	path, _ := writeConfig(t, "")
	var out bytes.Buffer
	if err := check(context.Background(), []string{"--config", path}, testDeps(&out)); err != nil {
		t.Fatalf("check: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "enabled probes: latency") || !strings.Contains(text, "target 127.0.0.1") {
		t.Fatalf("unexpected check output %q", text)
	}
}

func TestCheckCommandReportsClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	path, _ := writeConfig(t, "throughput:\n  server: 127.0.0.1\n  udp: false\n")
	var out bytes.Buffer
	args := []string{"--config", path, "--iperf-port", strconv.Itoa(addr.Port), "--check-timeout", "2s"}
	err = check(context.Background(), args, testDeps(&out))
	if !errors.Is(err, errPreflightFailed) {
		t.Fatalf("expected preflight failure, got %v", err)
	}
	if !strings.Contains(out.String(), "FAIL") {
		t.Fatalf("expected a failed check line, got %q", out.String())
	}
}

func TestCheckConfigOnly(t *testing.T) {
	path, _ := writeConfig(t, "")
	var out bytes.Buffer
	if err := check(context.Background(), []string{"--config", path, "--config-only"}, testDeps(&out)); err != nil {
		t.Fatalf("check: %v", err)
	}
	if strings.Contains(out.String(), "enabled probes") {
		t.Fatalf("config-only must skip prerequisites, got %q", out.String())
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wlan", "config.yaml")
	var out bytes.Buffer
	if err := initConfig([]string{"--config", path}, &out); err != nil {
		t.Fatalf("init-config: %v", err)
	}
	cfg, err := config.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("written config must validate: %v", err)
	}
	if err := initConfig([]string{"--config", path}, &out); !errors.Is(err, config.ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists, got %v", err)
	}
	if err := initConfig([]string{"--config", path, "--force"}, &out); err != nil {
		t.Fatalf("forced init-config: %v", err)
	}
}

func TestOverridesApplyOnlyExplicitFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o := registerFlags(fs)
	if err := fs.Parse([]string{"--targets", "192.0.2.1, 192.0.2.2", "--quiet", "--status-addr", "127.0.0.1:9999"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.Default()
	cfg.Latency.Count = 7
	o.apply(fs, &cfg)
	if len(cfg.Latency.Targets) != 2 || cfg.Latency.Targets[1] != "192.0.2.2" {
		t.Fatalf("unexpected targets %v", cfg.Latency.Targets)
	}
	if cfg.Latency.Count != 7 {
		t.Fatalf("unset flags must not override, got count %d", cfg.Latency.Count)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected quiet to force warn, got %s", cfg.Logging.Level)
	}
	if !cfg.Status.Enabled || cfg.Status.Addr != "127.0.0.1:9999" {
		t.Fatalf("expected status server enabled, got %+v", cfg.Status)
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, runtime.Summary{RunID: "1a2b3c4d", Iterations: 4, Elapsed: 1500 * time.Millisecond, Cancelled: true})
	want := "run 1a2b3c4d interrupted: 4 measurement(s) in 1.5s, last record none\n"
	if out.String() != want {
		t.Fatalf("expected %q got %q", want, out.String())
	}
}
