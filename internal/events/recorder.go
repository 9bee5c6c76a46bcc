// Package events fans cycle and run events out to observers.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

type Recorder interface {
	Record(event types.Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event types.Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event types.Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// LogRecorder writes every event as a structured log line. Probe failures and
// sink failures are logged at warn, everything else at debug or info.
type LogRecorder struct {
	Logger logrus.FieldLogger
}

func (l LogRecorder) Record(event types.Event) {
	if l.Logger == nil {
		return
	}
	fields := logrus.Fields{"event": string(event.Type)}
	if event.MeasurementID != "" {
		fields["measurement_id"] = event.MeasurementID
	}
	if event.Probe != "" {
		fields["probe"] = event.Probe
	}
	if event.Elapsed > 0 {
		fields["elapsed"] = event.Elapsed.String()
	}
	for k, v := range event.Details {
		fields[k] = v
	}
	entry := l.Logger.WithFields(fields)

	switch event.Type {
	case types.EventProbeFailed, types.EventProbeTimedOut, types.EventProbeRetried, types.EventSinkFailed:
		entry.Warn("measurement event")
	case types.EventCycleCompleted, types.EventRunStopped:
		entry.Info("measurement event")
	default:
		entry.Debug("measurement event")
	}
}

// Buffer keeps events in memory. Tests use it to assert on emitted events.
type Buffer struct {
	mu     sync.Mutex
	events []types.Event
}

func (b *Buffer) Record(event types.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *Buffer) Events() []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Types lists the recorded event types in order.
func (b *Buffer) Types() []types.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}
