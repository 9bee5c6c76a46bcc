package preflight

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

type stubAdapter struct {
	out probe.Outcome
}

func (s stubAdapter) Kind() probe.Kind                  { return probe.KindLatency }
func (s stubAdapter) Run(context.Context) probe.Outcome { return s.out }

func TestRunReportsInOrder(t *testing.T) {
	checks := []Check{
		{Name: "slow", Fn: func(ctx context.Context) error { time.Sleep(20 * time.Millisecond); return nil }},
		{Name: "broken", Fn: func(ctx context.Context) error { return errors.New("nope") }},
		{Name: "fast", Fn: func(ctx context.Context) error { return nil }},
	}
	report := Run(context.Background(), checks, time.Second)
	if report.Passed() {
		t.Fatalf("expected report to fail")
	}
	if len(report.Results) != 3 || report.Results[0].Name != "slow" || report.Results[2].Name != "fast" {
		t.Fatalf("unexpected order %+v", report.Results)
	}
	issues := report.Issues()
	if len(issues) != 1 || issues[0] != "broken: nope" {
		t.Fatalf("unexpected issues %v", issues)
	}
}

func TestRunBoundsEachCheck(t *testing.T) {
	check := Check{Name: "hang", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	start := time.Now()
	report := Run(context.Background(), []Check{check}, 30*time.Millisecond)
	if report.Passed() {
		t.Fatalf("expected timeout failure")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("check was not bounded")
	}
}

func TestInterfaceCheck(t *testing.T) {
	ok := Interface(func() (string, error) { return "wlan0", nil })
	if err := ok.Fn(context.Background()); err != nil {
		t.Fatalf("expected pass got %v", err)
	}
	down := Interface(func() (string, error) { return "", errors.New("interface wlan0 is down") })
	if err := down.Fn(context.Background()); err == nil || err.Error() != "interface wlan0 is down" {
		t.Fatalf("expected down error got %v", err)
	}
}

func TestReachableCheck(t *testing.T) {
	pass := Reachable("192.0.2.1", stubAdapter{out: probe.Success(probe.LatencySamples{})})
	if err := pass.Fn(context.Background()); err != nil {
		t.Fatalf("expected pass got %v", err)
	}
	fail := Reachable("192.0.2.1", stubAdapter{out: probe.Failuref("all 2 echo requests lost")})
	err := fail.Fn(context.Background())
	if err == nil || !strings.Contains(err.Error(), "192.0.2.1 is not reachable: all 2 echo requests lost") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPortCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := Port("iperf3 server", addr, nil).Fn(context.Background()); err != nil {
		t.Fatalf("expected open port, got %v", err)
	}
	ln.Close()
	if err := Port("iperf3 server", addr, nil).Fn(context.Background()); err == nil {
		t.Fatalf("expected closed port to fail")
	}
}

func TestBinaryCheck(t *testing.T) {
	missing := Binary("iperf3", func(string) (string, error) { return "", errors.New("executable file not found in $PATH") })
	if err := missing.Fn(context.Background()); err == nil || !strings.HasPrefix(err.Error(), "iperf3 not found") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestServiceAddr(t *testing.T) {
	cases := map[[2]string]string{
		{"files.lan", "smb"}:       "files.lan:445",
		{"files.lan", "ftp"}:       "files.lan:21",
		{"files.lan:8080", "http"}: "files.lan:8080",
		{"2001:db8::1", "https"}:   "[2001:db8::1]:443",
	}
	for in, want := range cases {
		if got := ServiceAddr(in[0], in[1]); got != want {
			t.Fatalf("ServiceAddr(%v) expected %s got %s", in, want, got)
		}
	}
}
