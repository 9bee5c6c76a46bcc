// Package radio reads the current wireless link snapshot from the platform's
// native tooling.
package radio

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

const airportPath = "/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport"

// Link is the subset of interface state the adapter needs.
type Link struct {
	Name     string
	Up       bool
	Wireless bool
}

type Config struct {
	// Interface is a device name or "auto".
	Interface string
}

type Dependencies struct {
	Run   probe.CommandRunner
	Links func() ([]Link, error)
	GOOS  string
}

type Adapter struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Adapter {
	if deps.Run == nil {
		deps.Run = probe.ExecRunner
	}
	if deps.Links == nil {
		deps.Links = SystemLinks
	}
	if deps.GOOS == "" {
		deps.GOOS = runtime.GOOS
	}
	return &Adapter{cfg: cfg, deps: deps}
}

func (a *Adapter) Kind() probe.Kind { return probe.KindRadio }

func (a *Adapter) Run(ctx context.Context) probe.Outcome {
	iface, err := a.ResolveInterface()
	if err != nil {
		return probe.Failure(err.Error(), nil)
	}

	snap, err := a.query(ctx, iface)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return probe.Failure(ctxErr.Error(), nil)
		}
		if errors.Is(err, ErrNotConnected) {
			return probe.Failuref("%s is not connected", iface)
		}
		return probe.Failure(err.Error(), nil)
	}
	if err := Validate(snap); err != nil {
		return probe.Failuref("invalid radio snapshot: %v", err)
	}
	snap.Interface = iface
	return probe.Success(snap)
}

// ResolveInterface returns the configured interface, or the first wireless
// interface when configured as "auto". A known interface that is down is an
// error.
func (a *Adapter) ResolveInterface() (string, error) {
	want := strings.TrimSpace(a.cfg.Interface)
	links, listErr := a.deps.Links()

	if want == "" || strings.EqualFold(want, "auto") {
		if listErr != nil {
			return "", fmt.Errorf("list interfaces: %w", listErr)
		}
		for _, l := range links {
			if l.Wireless {
				if !l.Up {
					return "", fmt.Errorf("interface %s is down", l.Name)
				}
				return l.Name, nil
			}
		}
		return "", errors.New("no wireless interface found")
	}

	if listErr == nil {
		for _, l := range links {
			if l.Name == want && !l.Up {
				return "", fmt.Errorf("interface %s is down", want)
			}
		}
	}
	return want, nil
}

func (a *Adapter) query(ctx context.Context, iface string) (probe.RadioSamples, error) {
	switch a.deps.GOOS {
	case "linux":
		out, err := a.deps.Run(ctx, "iw", "dev", iface, "link")
		if err == nil {
			snap, perr := ParseIWLink(string(out))
			if perr == nil || errors.Is(perr, ErrNotConnected) {
				return snap, perr
			}
		}
		if ctx.Err() != nil {
			return probe.RadioSamples{}, ctx.Err()
		}
		out, err = a.deps.Run(ctx, "iwconfig", iface)
		if err != nil {
			return probe.RadioSamples{}, fmt.Errorf("query %s: %w", iface, err)
		}
		return ParseIwconfig(string(out))
	case "windows":
		out, err := a.deps.Run(ctx, "netsh", "wlan", "show", "interfaces", "name="+iface)
		if err != nil {
			return probe.RadioSamples{}, fmt.Errorf("query %s: %w", iface, err)
		}
		return ParseNetsh(string(out))
	case "darwin":
		out, err := a.deps.Run(ctx, airportPath, "-I")
		if err != nil {
			return probe.RadioSamples{}, fmt.Errorf("query %s: %w", iface, err)
		}
		return ParseAirport(string(out))
	default:
		return probe.RadioSamples{}, fmt.Errorf("radio info unsupported on %s", a.deps.GOOS)
	}
}
