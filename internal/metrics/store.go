package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

// Store keeps in-memory counters and gauges for the measurement run.
type Store struct {
	cyclesTotal     atomic.Uint64
	recordsWritten  atomic.Uint64
	sinkFailures    atomic.Uint64
	lastCycleUnix   atomic.Int64
	lastErrorCount  atomic.Int64
	lastCycleMillis atomic.Int64
	spoolPending    atomic.Int64
	spoolDropped    atomic.Uint64
	uplinkSent      atomic.Uint64
	uplinkFailures  atomic.Uint64

	readinessState      atomic.Int64
	readinessReason     atomic.Value
	readinessCategories atomic.Value
	readyTransitions    atomic.Uint64
	notReadyTransitions atomic.Uint64

	probeOutcomes sync.Map // outcomeKey -> *atomic.Uint64
}

// ReadinessCategory tags a readiness reason with a severity.
type ReadinessCategory struct {
	Name     string
	Severity string
}

type outcomeKey struct {
	Probe  string
	Status string
}

func NewStore() *Store {
	store := &Store{}
	store.readinessReason.Store("")
	store.readinessCategories.Store([]ReadinessCategory(nil))
	return store
}

type ProbeCount struct {
	Probe  string
	Status string
	Count  uint64
}

type Snapshot struct {
	CyclesTotal         uint64
	RecordsWritten      uint64
	SinkFailures        uint64
	LastCycle           time.Time
	LastCycleDuration   time.Duration
	LastErrorCount      int64
	SpoolPendingBytes   int64
	SpoolDroppedTotal   uint64
	UplinkSentTotal     uint64
	UplinkFailuresTotal uint64
	ProbeOutcomes       []ProbeCount
	Ready               bool
	ReadyReason         string
	ReadyCategories     []ReadinessCategory
	ReadyTransitions    uint64
	NotReadyTransitions uint64
}

func (s *Store) Snapshot() Snapshot {
	reason, _ := s.readinessReason.Load().(string)
	rawCategories, _ := s.readinessCategories.Load().([]ReadinessCategory)
	categories := append([]ReadinessCategory(nil), rawCategories...)

	outcomes := make([]ProbeCount, 0)
	s.probeOutcomes.Range(func(key, value any) bool {
		k, ok := key.(outcomeKey)
		counter, ok2 := value.(*atomic.Uint64)
		if ok && ok2 {
			outcomes = append(outcomes, ProbeCount{Probe: k.Probe, Status: k.Status, Count: counter.Load()})
		}
		return true
	})
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Probe == outcomes[j].Probe {
			return outcomes[i].Status < outcomes[j].Status
		}
		return outcomes[i].Probe < outcomes[j].Probe
	})

	var last time.Time
	if unix := s.lastCycleUnix.Load(); unix > 0 {
		last = time.Unix(unix, 0).UTC()
	}
	return Snapshot{
		CyclesTotal:         s.cyclesTotal.Load(),
		RecordsWritten:      s.recordsWritten.Load(),
		SinkFailures:        s.sinkFailures.Load(),
		LastCycle:           last,
		LastCycleDuration:   time.Duration(s.lastCycleMillis.Load()) * time.Millisecond,
		LastErrorCount:      s.lastErrorCount.Load(),
		SpoolPendingBytes:   s.spoolPending.Load(),
		SpoolDroppedTotal:   s.spoolDropped.Load(),
		UplinkSentTotal:     s.uplinkSent.Load(),
		UplinkFailuresTotal: s.uplinkFailures.Load(),
		ProbeOutcomes:       outcomes,
		Ready:               s.readinessState.Load() == 1,
		ReadyReason:         reason,
		ReadyCategories:     categories,
		ReadyTransitions:    s.readyTransitions.Load(),
		NotReadyTransitions: s.notReadyTransitions.Load(),
	}
}

// Record updates counters from run events, so the store can sit in an
// events.Multi next to the log recorder.
func (s *Store) Record(event types.Event) {
	switch event.Type {
	case types.EventCycleCompleted:
		s.cyclesTotal.Add(1)
		s.lastCycleUnix.Store(event.Timestamp.Unix())
		s.lastCycleMillis.Store(event.Elapsed.Milliseconds())
		if event.Record != nil {
			s.lastErrorCount.Store(int64(event.Record.ErrorCount))
		}
	case types.EventProbeCompleted:
		s.incOutcome(event.Probe, "success")
	case types.EventProbeFailed:
		s.incOutcome(event.Probe, "failure")
	case types.EventProbeTimedOut:
		s.incOutcome(event.Probe, "timeout")
	case types.EventProbeSkipped:
		s.incOutcome(event.Probe, "skipped")
	case types.EventProbeRetried:
		s.incOutcome(event.Probe, "retried")
	case types.EventRecordWritten:
		s.recordsWritten.Add(1)
	case types.EventSinkFailed:
		s.sinkFailures.Add(1)
	}
}

func (s *Store) incOutcome(probe, status string) {
	key := outcomeKey{Probe: probe, Status: status}
	if v, ok := s.probeOutcomes.Load(key); ok {
		v.(*atomic.Uint64).Add(1)
		return
	}
	actual, _ := s.probeOutcomes.LoadOrStore(key, &atomic.Uint64{})
	actual.(*atomic.Uint64).Add(1)
}

// UplinkRecorder returns the recorder the uplink drain reports through.
func (s *Store) UplinkRecorder() UplinkRecorder {
	return uplinkRecorder{store: s}
}

type uplinkRecorder struct {
	store *Store
}

func (r uplinkRecorder) ObservePendingBytes(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	r.store.spoolPending.Store(bytes)
}

func (r uplinkRecorder) AddSent(n int) {
	r.store.uplinkSent.Add(uint64(n))
}

func (r uplinkRecorder) IncFailures() {
	r.store.uplinkFailures.Add(1)
}

func (r uplinkRecorder) ObserveDropped(total int64) {
	if total < 0 {
		return
	}
	r.store.spoolDropped.Store(uint64(total))
}

func (s *Store) ObserveReadiness(ready bool, reason string, categories []ReadinessCategory) {
	prev := s.readinessState.Load()
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		s.readinessCategories.Store([]ReadinessCategory(nil))
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
	s.readinessCategories.Store(dedupeCategories(categories))
}

func dedupeCategories(categories []ReadinessCategory) []ReadinessCategory {
	if len(categories) == 0 {
		return nil
	}
	seen := make(map[ReadinessCategory]struct{}, len(categories))
	out := make([]ReadinessCategory, 0, len(categories))
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		c = ReadinessCategory{Name: name, Severity: strings.ToLower(strings.TrimSpace(c.Severity))}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// WritePrometheus renders the store in the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	ready := 0
	if snap.Ready {
		ready = 1
	}
	reason := snap.ReadyReason
	if reason == "" {
		reason = "ready"
		if !snap.Ready {
			reason = "unknown"
		}
	}
	var lastCycle int64
	if !snap.LastCycle.IsZero() {
		lastCycle = snap.LastCycle.Unix()
	}

	lines := []string{
		"# HELP wlan_scanner_cycles_total Measurement cycles completed.",
		"# TYPE wlan_scanner_cycles_total counter",
		fmt.Sprintf("wlan_scanner_cycles_total %d", snap.CyclesTotal),
		"# HELP wlan_scanner_records_written_total Records accepted by the result sink.",
		"# TYPE wlan_scanner_records_written_total counter",
		fmt.Sprintf("wlan_scanner_records_written_total %d", snap.RecordsWritten),
		"# HELP wlan_scanner_sink_failures_total Failed result sink writes, retries included.",
		"# TYPE wlan_scanner_sink_failures_total counter",
		fmt.Sprintf("wlan_scanner_sink_failures_total %d", snap.SinkFailures),
		"# HELP wlan_scanner_last_cycle_timestamp_seconds Unix time of the last completed cycle.",
		"# TYPE wlan_scanner_last_cycle_timestamp_seconds gauge",
		fmt.Sprintf("wlan_scanner_last_cycle_timestamp_seconds %d", lastCycle),
		"# HELP wlan_scanner_last_cycle_duration_seconds Duration of the last completed cycle.",
		"# TYPE wlan_scanner_last_cycle_duration_seconds gauge",
		fmt.Sprintf("wlan_scanner_last_cycle_duration_seconds %.3f", snap.LastCycleDuration.Seconds()),
		"# HELP wlan_scanner_last_cycle_errors Probe errors in the last completed cycle.",
		"# TYPE wlan_scanner_last_cycle_errors gauge",
		fmt.Sprintf("wlan_scanner_last_cycle_errors %d", snap.LastErrorCount),
		"# HELP wlan_scanner_spool_pending_bytes Bytes waiting in the uplink spool.",
		"# TYPE wlan_scanner_spool_pending_bytes gauge",
		fmt.Sprintf("wlan_scanner_spool_pending_bytes %d", snap.SpoolPendingBytes),
		"# HELP wlan_scanner_spool_dropped_total Records discarded because the spool was full.",
		"# TYPE wlan_scanner_spool_dropped_total counter",
		fmt.Sprintf("wlan_scanner_spool_dropped_total %d", snap.SpoolDroppedTotal),
		"# HELP wlan_scanner_uplink_sent_total Records delivered to the uplink endpoint.",
		"# TYPE wlan_scanner_uplink_sent_total counter",
		fmt.Sprintf("wlan_scanner_uplink_sent_total %d", snap.UplinkSentTotal),
		"# HELP wlan_scanner_uplink_failures_total Failed uplink batch posts.",
		"# TYPE wlan_scanner_uplink_failures_total counter",
		fmt.Sprintf("wlan_scanner_uplink_failures_total %d", snap.UplinkFailuresTotal),
		"# HELP wlan_scanner_probe_outcomes_total Probe outcomes by probe and status.",
		"# TYPE wlan_scanner_probe_outcomes_total counter",
	}
	for _, pc := range snap.ProbeOutcomes {
		lines = append(lines, fmt.Sprintf("wlan_scanner_probe_outcomes_total{probe=%q,status=%q} %d", pc.Probe, pc.Status, pc.Count))
	}
	lines = append(lines,
		"# HELP wlan_scanner_ready Whether the scanner considers itself healthy (1=ready).",
		"# TYPE wlan_scanner_ready gauge",
		fmt.Sprintf("wlan_scanner_ready %d", ready),
		"# HELP wlan_scanner_ready_info Reason for the most recent readiness evaluation.",
		"# TYPE wlan_scanner_ready_info gauge",
		fmt.Sprintf("wlan_scanner_ready_info{reason=%q} 1", reason),
		"# HELP wlan_scanner_ready_transitions_total Readiness transitions by resulting state.",
		"# TYPE wlan_scanner_ready_transitions_total counter",
		fmt.Sprintf("wlan_scanner_ready_transitions_total{state=%q} %d", "ready", snap.ReadyTransitions),
		fmt.Sprintf("wlan_scanner_ready_transitions_total{state=%q} %d", "not_ready", snap.NotReadyTransitions),
	)
	for _, cat := range snap.ReadyCategories {
		lines = append(lines, fmt.Sprintf("wlan_scanner_ready_categories_info{category=%q,severity=%q} 1", cat.Name, cat.Severity))
	}
	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler serves the store in the Prometheus text format.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
