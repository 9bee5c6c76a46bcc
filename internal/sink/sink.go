// Package sink persists measurement records. Every sink must have durably
// accepted a record before Append returns.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

type Sink interface {
	Append(ctx context.Context, rec types.MeasurementRecord) error
	Close() error
}

type named struct {
	name string
	sink Sink
}

// Multi writes each record to every sink in order. A record that failed part
// way is retried only against the sinks that have not accepted it yet.
type Multi struct {
	mu      sync.Mutex
	sinks   []named
	pending string
	done    map[int]bool
}

func NewMulti() *Multi {
	return &Multi{}
}

// Add registers s under name, which is used in error messages.
func (m *Multi) Add(name string, s Sink) {
	if s == nil {
		return
	}
	m.sinks = append(m.sinks, named{name: name, sink: s})
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Append(ctx context.Context, rec types.MeasurementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.MeasurementID != m.pending {
		m.pending = rec.MeasurementID
		m.done = make(map[int]bool, len(m.sinks))
	}
	for i, s := range m.sinks {
		if m.done[i] {
			continue
		}
		if err := s.sink.Append(ctx, rec); err != nil {
			return fmt.Errorf("%s sink: %w", s.name, err)
		}
		m.done[i] = true
	}
	return nil
}

// Close closes every sink, in reverse order, and joins their errors.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if err := m.sinks[i].sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", m.sinks[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// nullable maps empty cells to SQL NULL.
func nullable(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if v == "" {
			out[i] = nil
			continue
		}
		out[i] = v
	}
	return out
}
