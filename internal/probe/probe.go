// Package probe defines the outcome model shared by every measurement adapter
// and the invoker that bounds each adapter call by its own timeout.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind names a probe category. The string form is used in notes and in the
// --tests selector.
type Kind string

const (
	KindRadio    Kind = "radio"
	KindLatency  Kind = "latency"
	KindStream   Kind = "tcp"
	KindDatagram Kind = "udp"
	KindTransfer Kind = "file"
)

var order = []Kind{KindRadio, KindLatency, KindStream, KindDatagram, KindTransfer}

// Order returns the fixed sequence probes run in within a cycle.
func Order() []Kind {
	out := make([]Kind, len(order))
	copy(out, order)
	return out
}

// ParseKind maps a selector name to a Kind.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range order {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown probe %q", name)
}

type Status int

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusFailure
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusFailure:
		return "failure"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is the result of one adapter invocation. It is built once and not
// modified afterwards.
type Outcome struct {
	Kind    Kind
	Status  Status
	Reason  string
	Samples Samples
	Elapsed time.Duration
}

func Success(samples Samples) Outcome {
	return Outcome{Status: StatusSuccess, Samples: samples}
}

// Failure reports a fault. Samples may still be attached when the adapter
// gathered usable data before failing.
func Failure(reason string, samples Samples) Outcome {
	return Outcome{Status: StatusFailure, Reason: reason, Samples: samples}
}

func Failuref(format string, args ...any) Outcome {
	return Failure(fmt.Sprintf(format, args...), nil)
}

func Timeout() Outcome {
	return Outcome{Status: StatusTimeout}
}

func Skipped() Outcome {
	return Outcome{Status: StatusSkipped}
}

// Adapter wraps one external measurement. Parameters are bound at
// construction; the deadline travels in ctx.
type Adapter interface {
	Kind() Kind
	Run(ctx context.Context) Outcome
}

// Set is the enabled-probe set, derived once from configuration.
type Set map[Kind]struct{}

func NewSet(kinds ...Kind) Set {
	s := make(Set, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

func (s Set) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}

// Intersect keeps only kinds present in both sets. A nil selection keeps everything.
func (s Set) Intersect(selection Set) Set {
	if selection == nil {
		return s
	}
	out := make(Set, len(s))
	for k := range s {
		if selection.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// Kinds lists the members in run order.
func (s Set) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s))
	for _, k := range order {
		if s.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
