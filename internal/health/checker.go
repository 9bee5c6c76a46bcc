// Package health decides whether the scanner is currently producing records.
package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/metrics"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

const defaultStaleAfter = 5 * time.Minute

const (
	categoryCyclePending  = "CYCLE_PENDING"
	categoryCycleStale    = "CYCLE_STALE"
	categorySinkError     = "SINK_ERROR"
	categorySpoolPressure = "SPOOL_PRESSURE"
	categoryRunStopped    = "RUN_STOPPED"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// spool usage above this share of its budget is reported as pressure
const spoolPressureRatio = 0.9

type Options struct {
	// StaleAfter is how long after the last completed cycle the scanner is
	// considered stuck. Zero means five minutes.
	StaleAfter    time.Duration
	SpoolMaxBytes int64
}

// Checker evaluates readiness. It learns about cycles and sink writes by
// acting as an events.Recorder.
type Checker struct {
	metrics       *metrics.Store
	staleAfter    time.Duration
	spoolMaxBytes int64

	mu        sync.RWMutex
	lastCycle time.Time
	sinkErr   string
	stopped   bool
}

func NewChecker(store *metrics.Store, opts Options) *Checker {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	return &Checker{
		metrics:       store,
		staleAfter:    opts.StaleAfter,
		spoolMaxBytes: opts.SpoolMaxBytes,
	}
}

func (c *Checker) Record(ev types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case types.EventCycleCompleted:
		c.lastCycle = ev.Timestamp
	case types.EventRecordWritten:
		c.sinkErr = ""
	case types.EventSinkFailed:
		if msg, ok := ev.Details["error"].(string); ok && msg != "" {
			c.sinkErr = msg
		} else {
			c.sinkErr = "write failed"
		}
	case types.EventRunStopped:
		c.stopped = true
	}
}

// Ready evaluates all readiness conditions and returns the overall status and
// the reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 4)
	categories := make([]metrics.ReadinessCategory, 0, 4)
	fail := func(name, severity, reason string) {
		reasons = append(reasons, reason)
		categories = append(categories, metrics.ReadinessCategory{Name: name, Severity: severity})
	}

	c.mu.RLock()
	lastCycle := c.lastCycle
	sinkErr := c.sinkErr
	stopped := c.stopped
	c.mu.RUnlock()

	switch {
	case stopped:
		fail(categoryRunStopped, severityInfo, "measurement run has stopped")
	case lastCycle.IsZero():
		fail(categoryCyclePending, severityInfo, "no cycle completed yet")
	case now.Sub(lastCycle) > c.staleAfter:
		fail(categoryCycleStale, severityWarning,
			fmt.Sprintf("last cycle completed %s ago", now.Sub(lastCycle).Round(time.Second)))
	}

	if sinkErr != "" {
		fail(categorySinkError, severityCritical, "sink failing: "+sinkErr)
	}

	if c.metrics != nil && c.spoolMaxBytes > 0 {
		pending := c.metrics.Snapshot().SpoolPendingBytes
		if float64(pending) >= spoolPressureRatio*float64(c.spoolMaxBytes) {
			fail(categorySpoolPressure, severityWarning, "uplink spool nearly full")
		}
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		c.metrics.ObserveReadiness(ready, strings.Join(reasons, "; "), categories)
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
