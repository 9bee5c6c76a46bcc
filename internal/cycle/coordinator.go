// Package cycle runs the enabled probes of one measurement cycle in their fixed
// order and reduces the outcomes into a single record.
package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TakashiAihara/wlan-scanner/internal/events"
	"github.com/TakashiAihara/wlan-scanner/internal/probe"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

const defaultProbeTimeout = 10 * time.Second

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunningProbe
	PhaseAggregating
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunningProbe:
		return "running_probe"
	case PhaseAggregating:
		return "aggregating"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Invoker bounds a single adapter call. probe.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, a probe.Adapter, timeout time.Duration) probe.Outcome
}

// Budgeted adapters report the timeout they need when none is configured.
type Budgeted interface {
	Budget() time.Duration
}

// Metadata is copied verbatim into every record.
type Metadata struct {
	Device   string
	Location string
	Route    string
}

type Option func(*Coordinator)

func WithRecorder(rec events.Recorder) Option {
	return func(c *Coordinator) {
		if rec != nil {
			c.recorder = rec
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithRunID(id string) Option {
	return func(c *Coordinator) {
		if id != "" {
			c.runID = id
		}
	}
}

// WithTimeout overrides the budget of one probe kind. Zero keeps the default.
func WithTimeout(kind probe.Kind, d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeouts[kind] = d
		}
	}
}

// WithAttempts lets one probe kind run up to n times per cycle until it
// succeeds. Values below 2 keep the single attempt.
func WithAttempts(kind probe.Kind, n int) Option {
	return func(c *Coordinator) {
		if n > 1 {
			c.attempts[kind] = n
		}
	}
}

type Coordinator struct {
	adapters []probe.Adapter
	invoker  Invoker
	meta     Metadata
	recorder events.Recorder
	now      func() time.Time
	runID    string
	timeouts map[probe.Kind]time.Duration
	attempts map[probe.Kind]int

	mu      sync.Mutex
	phase   Phase
	current probe.Kind
}

// New orders adapters by probe.Order. Adapters of the same kind keep the
// order they were passed in.
func New(adapters []probe.Adapter, invoker Invoker, meta Metadata, opts ...Option) *Coordinator {
	c := &Coordinator{
		invoker:  invoker,
		meta:     meta,
		recorder: events.NoopRecorder{},
		now:      time.Now,
		runID:    NewRunID(),
		timeouts: make(map[probe.Kind]time.Duration),
		attempts: make(map[probe.Kind]int),
	}
	for _, kind := range probe.Order() {
		for _, a := range adapters {
			if a != nil && a.Kind() == kind {
				c.adapters = append(c.adapters, a)
			}
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRunID returns the per-process prefix of measurement IDs.
func NewRunID() string {
	return uuid.NewString()[:8]
}

func MeasurementID(runID string, seq int) string {
	return fmt.Sprintf("%s-%04d", runID, seq)
}

func (c *Coordinator) RunID() string { return c.runID }

// Phase reports the current phase and, while running, the active probe.
func (c *Coordinator) Phase() (Phase, probe.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase, c.current
}

func (c *Coordinator) setPhase(p Phase, kind probe.Kind) {
	c.mu.Lock()
	c.phase = p
	c.current = kind
	c.mu.Unlock()
}

// Timeout returns the budget for one adapter call.
func (c *Coordinator) Timeout(a probe.Adapter) time.Duration {
	if d, ok := c.timeouts[a.Kind()]; ok {
		return d
	}
	if b, ok := a.(Budgeted); ok {
		if d := b.Budget(); d > 0 {
			return d
		}
	}
	return defaultProbeTimeout
}

// Attempts returns how many times a probe kind may run in one cycle.
func (c *Coordinator) Attempts(kind probe.Kind) int {
	if n, ok := c.attempts[kind]; ok {
		return n
	}
	return 1
}

// Run executes one cycle. It always returns a record, whatever the probes do;
// probe faults only show up as notes and in ErrorCount.
func (c *Coordinator) Run(ctx context.Context, seq int) types.MeasurementRecord {
	started := c.now()
	rec := types.MeasurementRecord{
		MeasurementID: MeasurementID(c.runID, seq),
		Timestamp:     started.UTC(),
		Device:        c.meta.Device,
		Location:      c.meta.Location,
		Route:         c.meta.Route,
	}
	c.emit(types.Event{Type: types.EventCycleStarted, MeasurementID: rec.MeasurementID})

	for _, a := range c.adapters {
		c.setPhase(PhaseRunningProbe, a.Kind())
		out, attempts := c.invoke(ctx, rec.MeasurementID, a)
		c.record(&rec, out, attempts)
	}

	c.setPhase(PhaseAggregating, "")
	if rec.Notes == nil {
		rec.Notes = []string{}
	}
	c.setPhase(PhaseComplete, "")

	snapshot := rec
	c.emit(types.Event{
		Type:          types.EventCycleCompleted,
		MeasurementID: rec.MeasurementID,
		Elapsed:       c.now().Sub(started),
		Details:       map[string]any{"error_count": rec.ErrorCount},
		Record:        &snapshot,
	})
	c.setPhase(PhaseIdle, "")
	return rec
}

// invoke repeats failed or timed out calls up to the kind's attempt limit.
// Every attempt gets the full timeout. It returns the last outcome and the
// number of attempts made.
func (c *Coordinator) invoke(ctx context.Context, id string, a probe.Adapter) (probe.Outcome, int) {
	limit := c.Attempts(a.Kind())
	timeout := c.Timeout(a)
	for n := 1; ; n++ {
		out := c.invoker.Invoke(ctx, a, timeout)
		if out.Status == probe.StatusSuccess || out.Status == probe.StatusSkipped || n >= limit || ctx.Err() != nil {
			return out, n
		}
		c.emit(types.Event{
			Type:          types.EventProbeRetried,
			MeasurementID: id,
			Probe:         string(out.Kind),
			Elapsed:       out.Elapsed,
			Details:       map[string]any{"attempt": n, "status": string(out.Status), "reason": out.Reason},
		})
	}
}

func (c *Coordinator) record(rec *types.MeasurementRecord, out probe.Outcome, attempts int) {
	ev := types.Event{
		MeasurementID: rec.MeasurementID,
		Probe:         string(out.Kind),
		Elapsed:       out.Elapsed,
	}
	switch out.Status {
	case probe.StatusSuccess:
		ev.Type = types.EventProbeCompleted
		fold(rec, out.Samples)
	case probe.StatusSkipped:
		ev.Type = types.EventProbeSkipped
	case probe.StatusTimeout:
		ev.Type = types.EventProbeTimedOut
		rec.Notes = append(rec.Notes, note(out, attempts))
		rec.ErrorCount++
	default:
		ev.Type = types.EventProbeFailed
		ev.Details = map[string]any{"reason": out.Reason}
		rec.Notes = append(rec.Notes, note(out, attempts))
		rec.ErrorCount++
		// partial data such as a fully lost latency series still describes the link
		if out.Samples != nil {
			fold(rec, out.Samples)
		}
	}
	c.emit(ev)
}

func (c *Coordinator) emit(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now().UTC()
	}
	c.recorder.Record(ev)
}
