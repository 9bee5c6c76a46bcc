// Package preflight verifies that the environment can support a measurement
// run before the first cycle starts.
package preflight

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

const defaultCheckTimeout = 10 * time.Second

// Check is a single named prerequisite.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Result struct {
	Name    string        `json:"name"`
	Passed  bool          `json:"passed"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

type Report struct {
	Results []Result `json:"results"`
}

func (r Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Issues lists one line per failed check.
func (r Report) Issues() []string {
	var out []string
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, fmt.Sprintf("%s: %s", res.Name, res.Detail))
		}
	}
	return out
}

// Run executes every check concurrently, each bounded by timeout, and reports
// them in the order given.
func Run(ctx context.Context, checks []Check, timeout time.Duration) Report {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := c.Fn(cctx)
			results[i] = Result{Name: c.Name, Passed: err == nil, Elapsed: time.Since(start)}
			if err != nil {
				results[i].Detail = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return Report{Results: results}
}

// Interface passes when resolve finds a wireless interface that is up.
func Interface(resolve func() (string, error)) Check {
	return Check{
		Name: "wireless interface",
		Fn: func(context.Context) error {
			name, err := resolve()
			if err != nil {
				return err
			}
			if name == "" {
				return fmt.Errorf("no wireless interface found")
			}
			return nil
		},
	}
}

// Reachable passes when adapter, an echo probe against target, gets at least
// one reply.
func Reachable(target string, adapter probe.Adapter) Check {
	return Check{
		Name: "target " + target,
		Fn: func(ctx context.Context) error {
			out := adapter.Run(ctx)
			if out.Status != probe.StatusSuccess {
				reason := out.Reason
				if reason == "" {
					reason = out.Status.String()
				}
				return fmt.Errorf("%s is not reachable: %s", target, reason)
			}
			return nil
		},
	}
}

// Dialer opens a TCP connection; net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Port passes when a TCP connection to addr can be opened.
func Port(name, addr string, d Dialer) Check {
	if d == nil {
		d = &net.Dialer{}
	}
	return Check{
		Name: name,
		Fn: func(ctx context.Context) error {
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return fmt.Errorf("%s unavailable: %w", addr, err)
			}
			return conn.Close()
		},
	}
}

// Binary passes when the executable can be found on PATH.
func Binary(name string, lookPath func(string) (string, error)) Check {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return Check{
		Name: "binary " + name,
		Fn: func(context.Context) error {
			if _, err := lookPath(name); err != nil {
				return fmt.Errorf("%s not found: %w", name, err)
			}
			return nil
		},
	}
}

// ServiceAddr turns a server host and protocol into host:port, keeping an
// explicit port when one is given.
func ServiceAddr(server, protocol string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	port := map[string]string{"http": "80", "https": "443", "ftp": "21", "smb": "445"}[strings.ToLower(protocol)]
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), port)
}
