// Package scheduler repeats measurement cycles at a fixed cadence and hands
// each record to the sink before the next cycle starts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/events"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Cycle produces one record per call. cycle.Coordinator satisfies it.
type Cycle interface {
	Run(ctx context.Context, seq int) types.MeasurementRecord
}

type Sink interface {
	Append(ctx context.Context, rec types.MeasurementRecord) error
}

// SinkError ends a run after a record could not be written twice in a row.
type SinkError struct {
	RecordID    string
	LastWritten string
	Err         error
}

func (e *SinkError) Error() string {
	last := e.LastWritten
	if last == "" {
		last = "none"
	}
	return fmt.Sprintf("write record %s: %v (last written record: %s)", e.RecordID, e.Err, last)
}

func (e *SinkError) Unwrap() error { return e.Err }

// RunState is owned by the scheduler; callers only get copies.
type RunState struct {
	Iterations  int
	Cancelled   bool
	LastWritten string
	StartedAt   time.Time
	LastCycleAt time.Time
}

type Config struct {
	Interval        time.Duration
	MaxMeasurements int
	Continuous      bool
}

type Scheduler struct {
	cfg      Config
	cycle    Cycle
	sink     Sink
	recorder events.Recorder

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	stopOnce sync.Once
	stopCh   chan struct{}

	mu    sync.Mutex
	state State
	run   RunState
}

type Option func(*Scheduler)

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		if after != nil {
			s.after = after
		}
	}
}

func WithRecorder(rec events.Recorder) Option {
	return func(s *Scheduler) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

func New(cfg Config, cycle Cycle, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		cycle:    cycle,
		sink:     sink,
		recorder: events.NoopRecorder{},
		now:      time.Now,
		after:    time.After,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit is the number of cycles the run may start; zero means unbounded.
func (s *Scheduler) Limit() int {
	if !s.cfg.Continuous {
		return 1
	}
	if s.cfg.MaxMeasurements > 0 {
		return s.cfg.MaxMeasurements
	}
	return 0
}

// Stop asks the run to end at the next iteration boundary. A cycle already in
// progress completes and its record is written.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.run.Cancelled = true
		if s.state == StateRunning {
			s.state = StateStopping
		}
		s.mu.Unlock()
		close(s.stopCh)
	})
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) RunState() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// Run drives cycles until the limit is reached, Stop is called, ctx is
// cancelled, or the sink fails twice on the same record. Only the sink
// failure is returned as an error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.state = StateRunning
	s.run.StartedAt = s.now()
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		case <-finished:
		}
	}()

	err := s.loop(ctx)
	close(finished)

	s.mu.Lock()
	s.state = StateStopped
	state := s.run
	s.mu.Unlock()

	s.recorder.Record(types.Event{
		Type:          types.EventRunStopped,
		Timestamp:     s.now().UTC(),
		MeasurementID: state.LastWritten,
		Elapsed:       s.now().Sub(state.StartedAt),
		Details:       map[string]any{"iterations": state.Iterations, "cancelled": state.Cancelled},
	})
	return err
}

func (s *Scheduler) loop(ctx context.Context) error {
	// cycles and writes must not be cut short by an interrupt
	work := context.WithoutCancel(ctx)
	limit := s.Limit()

	for {
		if s.shouldStop(limit) {
			return nil
		}

		start := s.now()
		seq := s.beginIteration(start)
		rec := s.cycle.Run(work, seq)
		if err := s.write(work, rec); err != nil {
			return err
		}

		if limit > 0 && seq >= limit {
			return nil
		}
		sleep := s.cfg.Interval - s.now().Sub(start)
		if sleep > 0 && !s.wait(sleep) {
			return nil
		}
	}
}

func (s *Scheduler) shouldStop(limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Cancelled || (limit > 0 && s.run.Iterations >= limit)
}

func (s *Scheduler) beginIteration(at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Iterations++
	s.run.LastCycleAt = at
	return s.run.Iterations
}

// write retries a failed append once before giving up on the run.
func (s *Scheduler) write(ctx context.Context, rec types.MeasurementRecord) error {
	err := s.sink.Append(ctx, rec)
	if err != nil {
		s.recorder.Record(types.Event{
			Type:          types.EventSinkFailed,
			Timestamp:     s.now().UTC(),
			MeasurementID: rec.MeasurementID,
			Details:       map[string]any{"error": err.Error(), "attempt": 1},
		})
		err = s.sink.Append(ctx, rec)
	}
	if err != nil {
		s.recorder.Record(types.Event{
			Type:          types.EventSinkFailed,
			Timestamp:     s.now().UTC(),
			MeasurementID: rec.MeasurementID,
			Details:       map[string]any{"error": err.Error(), "attempt": 2},
		})
		return &SinkError{RecordID: rec.MeasurementID, LastWritten: s.RunState().LastWritten, Err: err}
	}

	s.mu.Lock()
	s.run.LastWritten = rec.MeasurementID
	s.mu.Unlock()
	s.recorder.Record(types.Event{
		Type:          types.EventRecordWritten,
		Timestamp:     s.now().UTC(),
		MeasurementID: rec.MeasurementID,
		Record:        &rec,
	})
	return nil
}

// wait sleeps for d and reports false when the run was stopped meanwhile.
func (s *Scheduler) wait(d time.Duration) bool {
	select {
	case <-s.after(d):
		return true
	case <-s.stopCh:
		return false
	}
}
