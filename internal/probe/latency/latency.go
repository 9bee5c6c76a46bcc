// Package latency measures round-trip times with ICMP echo requests.
package latency

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

type Config struct {
	Targets     []string
	Count       int
	Size        int
	Interval    time.Duration
	EchoTimeout time.Duration
}

type Dependencies struct {
	Resolve func(ctx context.Context, host string) (net.IP, error)
	Listen  func(ipv6 bool) (Pinger, error)
}

type Adapter struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Adapter {
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Size <= 0 {
		cfg.Size = 32
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = 10 * time.Second
	}
	if deps.Resolve == nil {
		deps.Resolve = resolveIP
	}
	if deps.Listen == nil {
		deps.Listen = ListenICMP
	}
	return &Adapter{cfg: cfg, deps: deps}
}

func (a *Adapter) Kind() probe.Kind { return probe.KindLatency }

// Budget is the time a full run needs when every echo waits its full timeout.
func (a *Adapter) Budget() time.Duration {
	perTarget := time.Duration(a.cfg.Count)*a.cfg.Interval + a.cfg.EchoTimeout
	return time.Duration(len(a.cfg.Targets))*perTarget + 5*time.Second
}

// Run probes each target in order. Lost echoes are recorded as nil; only the
// loss of every echo to every target is a failure.
func (a *Adapter) Run(ctx context.Context) probe.Outcome {
	if len(a.cfg.Targets) == 0 {
		return probe.Failuref("no latency targets configured")
	}

	pingers := make(map[bool]Pinger, 2)
	defer func() {
		for _, p := range pingers {
			p.Close()
		}
	}()

	samples := probe.LatencySamples{}
	received := 0
	var lastErr error
	for _, target := range a.cfg.Targets {
		series, got, err := a.probeTarget(ctx, target, pingers)
		samples.Series = append(samples.Series, series)
		received += got
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return probe.Failure(ctx.Err().Error(), samples)
		}
	}

	if received == 0 {
		total := len(a.cfg.Targets) * a.cfg.Count
		if lastErr != nil {
			return probe.Failure(fmt.Sprintf("all %d echo requests lost (%v)", total, lastErr), samples)
		}
		return probe.Failure(fmt.Sprintf("all %d echo requests lost", total), samples)
	}
	return probe.Success(samples)
}

// probeTarget returns a full series even when the target cannot be resolved
// or the socket cannot be opened; the error explains the missing replies.
func (a *Adapter) probeTarget(ctx context.Context, target string, pingers map[bool]Pinger) (probe.TargetSeries, int, error) {
	series := probe.TargetSeries{Target: target, RTTs: make([]*float64, a.cfg.Count)}

	ip, err := a.deps.Resolve(ctx, target)
	if err != nil {
		return series, 0, fmt.Errorf("resolve %s: %w", target, err)
	}
	v6 := ip.To4() == nil
	pinger, ok := pingers[v6]
	if !ok {
		pinger, err = a.deps.Listen(v6)
		if err != nil {
			return series, 0, err
		}
		pingers[v6] = pinger
	}

	limiter := rate.NewLimiter(rate.Every(a.cfg.Interval), 1)
	received := 0
	var lastErr error
	for i := 0; i < a.cfg.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			// the limiter refuses early when the wait would pass the deadline
			<-ctx.Done()
			return series, received, ctx.Err()
		}
		rtt, err := pinger.Ping(ctx, ip, i+1, a.cfg.Size, a.cfg.EchoTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		ms := float64(rtt) / float64(time.Millisecond)
		series.RTTs[i] = &ms
		received++
	}
	return series, received, lastErr
}

func resolveIP(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP, nil
	}
	return nil, fmt.Errorf("no addresses for %s", host)
}
