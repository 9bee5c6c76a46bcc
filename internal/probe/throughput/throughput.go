// Package throughput drives iperf3 in stream (TCP) and datagram (UDP) mode.
package throughput

import (
	"context"
	"strconv"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

type Mode int

const (
	ModeStream Mode = iota
	ModeDatagram
)

type Config struct {
	Binary    string
	Server    string
	Port      int
	Duration  time.Duration
	Parallel  int
	Bandwidth string
}

type Adapter struct {
	mode Mode
	cfg  Config
	run  probe.CommandRunner
}

// New builds an adapter for one mode. A nil runner uses probe.ExecRunner.
func New(mode Mode, cfg Config, run probe.CommandRunner) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "iperf3"
	}
	if cfg.Port == 0 {
		cfg.Port = 5201
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.Bandwidth == "" {
		cfg.Bandwidth = "10M"
	}
	if run == nil {
		run = probe.ExecRunner
	}
	return &Adapter{mode: mode, cfg: cfg, run: run}
}

func (a *Adapter) Kind() probe.Kind {
	if a.mode == ModeDatagram {
		return probe.KindDatagram
	}
	return probe.KindStream
}

// Budget covers both stream directions plus connection setup.
func (a *Adapter) Budget() time.Duration {
	return 2*a.cfg.Duration + 30*time.Second
}

func (a *Adapter) Run(ctx context.Context) probe.Outcome {
	if a.cfg.Server == "" {
		return probe.Skipped()
	}
	if a.mode == ModeDatagram {
		return a.runDatagram(ctx)
	}
	return a.runStream(ctx)
}

func (a *Adapter) runStream(ctx context.Context) probe.Outcome {
	up, err := a.invoke(ctx, "-P", strconv.Itoa(a.cfg.Parallel))
	if err != nil {
		return probe.Failure(err.Error(), nil)
	}
	down, err := a.invoke(ctx, "-P", strconv.Itoa(a.cfg.Parallel), "-R")
	if err != nil {
		return probe.Failure(err.Error(), nil)
	}
	return probe.Success(probe.StreamSamples{
		UploadMbps:   mbps(up.End.SumSent.BitsPerSecond),
		DownloadMbps: mbps(down.End.SumReceived.BitsPerSecond),
		Retransmits:  up.End.SumSent.Retransmits,
	})
}

func (a *Adapter) runDatagram(ctx context.Context) probe.Outcome {
	r, err := a.invoke(ctx, "-u", "-b", a.cfg.Bandwidth)
	if err != nil {
		return probe.Failure(err.Error(), nil)
	}
	return probe.Success(probe.DatagramSamples{
		ThroughputMbps: mbps(r.End.Sum.BitsPerSecond),
		LossPct:        r.End.Sum.LostPercent,
		JitterMs:       r.End.Sum.JitterMs,
	})
}

func (a *Adapter) invoke(ctx context.Context, extra ...string) (report, error) {
	args := []string{
		"-c", a.cfg.Server,
		"-p", strconv.Itoa(a.cfg.Port),
		"-t", strconv.Itoa(int(a.cfg.Duration.Round(time.Second).Seconds())),
		"-J",
	}
	args = append(args, extra...)
	out, runErr := a.run(ctx, a.cfg.Binary, args...)
	return parseReport(out, runErr)
}
