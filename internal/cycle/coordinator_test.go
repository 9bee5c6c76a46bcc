package cycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/events"
	"github.com/TakashiAihara/wlan-scanner/internal/probe"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

type stubAdapter struct {
	kind  probe.Kind
	out   probe.Outcome
	delay time.Duration
	calls int
}

func (s *stubAdapter) Kind() probe.Kind { return s.kind }

func (s *stubAdapter) Run(ctx context.Context) probe.Outcome {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return probe.Failure(ctx.Err().Error(), nil)
		}
	}
	return s.out
}

func newInvoker(t *testing.T) *probe.Invoker {
	t.Helper()
	inv, err := probe.NewInvoker(probe.WithWorkers(4))
	if err != nil {
		t.Fatalf("NewInvoker: %v", err)
	}
	t.Cleanup(inv.Close)
	return inv
}

func ms(v float64) *float64 { return &v }

func successfulAdapters() []probe.Adapter {
	return []probe.Adapter{
		&stubAdapter{kind: probe.KindTransfer, out: probe.Success(probe.TransferSamples{
			Protocol: "http", Direction: "download", Bytes: 10 * 1024 * 1024, Duration: 2 * time.Second,
			IntervalMBps: []float64{4, 6, 5},
		})},
		&stubAdapter{kind: probe.KindRadio, out: probe.Success(probe.RadioSamples{
			SSID: "office", RSSI: types.Float(-55), LinkQuality: types.Float(90), Channel: types.Int(36),
		})},
		&stubAdapter{kind: probe.KindLatency, out: probe.Success(probe.LatencySamples{Series: []probe.TargetSeries{
			{Target: "192.0.2.1", RTTs: []*float64{ms(10), nil, ms(20), ms(30)}},
		}})},
		&stubAdapter{kind: probe.KindStream, out: probe.Success(probe.StreamSamples{UploadMbps: 90, DownloadMbps: 110, Retransmits: 2})},
		&stubAdapter{kind: probe.KindDatagram, out: probe.Success(probe.DatagramSamples{ThroughputMbps: 9.9, LossPct: 0.5, JitterMs: 1.2})},
	}
}

func TestAllProbesSucceed(t *testing.T) {
	buf := &events.Buffer{}
	c := New(successfulAdapters(), newInvoker(t), Metadata{Device: "laptop", Location: "lab", Route: "a"},
		WithRunID("abcd1234"), WithRecorder(buf))

	rec := c.Run(context.Background(), 1)
	if rec.MeasurementID != "abcd1234-0001" {
		t.Fatalf("unexpected id %q", rec.MeasurementID)
	}
	if rec.ErrorCount != 0 || len(rec.Notes) != 0 {
		t.Fatalf("expected clean record, got %d errors %v", rec.ErrorCount, rec.Notes)
	}
	if rec.Device != "laptop" || rec.Location != "lab" || rec.Route != "a" {
		t.Fatalf("metadata not copied: %+v", rec)
	}
	if rec.Radio == nil || rec.Radio.SSID != "office" || *rec.Radio.Channel != 36 {
		t.Fatalf("unexpected radio block %+v", rec.Radio)
	}
	if rec.Latency == nil || *rec.Latency.LossPct != 25 || *rec.Latency.AvgRTTMs != 20 || *rec.Latency.MaxRTTMs != 30 {
		t.Fatalf("unexpected latency block %+v", rec.Latency)
	}
	if rec.Stream == nil || *rec.Stream.UploadMbps != 90 || *rec.Stream.Retransmits != 2 {
		t.Fatalf("unexpected stream block %+v", rec.Stream)
	}
	if rec.Transfer == nil || *rec.Transfer.SpeedMBps != 5 || *rec.Transfer.ThroughputMbps != 40 || *rec.Transfer.SpeedVariation != 1 {
		t.Fatalf("unexpected transfer block %+v", rec.Transfer)
	}
	if len(rec.Row()) != len(types.Columns()) {
		t.Fatalf("row width %d does not match columns %d", len(rec.Row()), len(types.Columns()))
	}

	got := buf.Types()
	want := []types.EventType{
		types.EventCycleStarted,
		types.EventProbeCompleted, types.EventProbeCompleted, types.EventProbeCompleted,
		types.EventProbeCompleted, types.EventProbeCompleted,
		types.EventCycleCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s got %s", i, want[i], got[i])
		}
	}
	order := []string{}
	for _, ev := range buf.Events() {
		if ev.Type == types.EventProbeCompleted {
			order = append(order, ev.Probe)
		}
	}
	if strings.Join(order, ",") != "radio,latency,tcp,udp,file" {
		t.Fatalf("probes ran out of order: %v", order)
	}
}

func TestLatencyTotalLossFoldsSamples(t *testing.T) {
	lost := probe.Failure("all 4 echo requests lost", probe.LatencySamples{Series: []probe.TargetSeries{
		{Target: "192.0.2.1", RTTs: make([]*float64, 4)},
	}})
	c := New([]probe.Adapter{&stubAdapter{kind: probe.KindLatency, out: lost}}, newInvoker(t), Metadata{})

	rec := c.Run(context.Background(), 1)
	if rec.Latency == nil || rec.Latency.LossPct == nil || *rec.Latency.LossPct != 100 {
		t.Fatalf("expected loss 100, got %+v", rec.Latency)
	}
	if rec.Latency.AvgRTTMs != nil || rec.Latency.MinRTTMs != nil || rec.Latency.StdDevMs != nil {
		t.Fatalf("expected null rtt fields, got %+v", rec.Latency)
	}
	if rec.ErrorCount != 1 || len(rec.Notes) != 1 || rec.Notes[0] != "latency: all 4 echo requests lost" {
		t.Fatalf("unexpected notes %v (errors %d)", rec.Notes, rec.ErrorCount)
	}
}

func TestThroughputRefusedLeavesBlockEmpty(t *testing.T) {
	refused := probe.Failuref("unable to connect to server: Connection refused")
	adapters := []probe.Adapter{
		&stubAdapter{kind: probe.KindRadio, out: probe.Success(probe.RadioSamples{SSID: "x"})},
		&stubAdapter{kind: probe.KindStream, out: refused},
	}
	c := New(adapters, newInvoker(t), Metadata{})

	rec := c.Run(context.Background(), 2)
	if rec.Stream != nil {
		t.Fatalf("expected no stream block, got %+v", rec.Stream)
	}
	if rec.ErrorCount != 1 || !strings.Contains(rec.Notes[0], "Connection refused") || !strings.HasPrefix(rec.Notes[0], "tcp: ") {
		t.Fatalf("unexpected notes %v", rec.Notes)
	}
	row := rec.Row()
	idx := map[string]int{}
	for i, col := range types.Columns() {
		idx[col] = i
	}
	if row[idx["iperf_tcp_upload"]] != "" || row[idx["wifi_ssid"]] != "x" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestEveryProbeFailingStillEmitsRecord(t *testing.T) {
	var adapters []probe.Adapter
	for _, k := range probe.Order() {
		adapters = append(adapters, &stubAdapter{kind: k, out: probe.Failuref("%s broke", k)})
	}
	c := New(adapters, newInvoker(t), Metadata{}, WithRunID("deadbeef"))

	rec := c.Run(context.Background(), 7)
	if rec.MeasurementID != "deadbeef-0007" {
		t.Fatalf("unexpected id %q", rec.MeasurementID)
	}
	if rec.ErrorCount != 5 || len(rec.Notes) != 5 {
		t.Fatalf("expected five failures, got %d %v", rec.ErrorCount, rec.Notes)
	}
	if rec.Radio != nil || rec.Latency != nil || rec.Transfer != nil {
		t.Fatalf("expected empty blocks, got %+v", rec)
	}
}

func TestSkippedProbesLeaveNoNote(t *testing.T) {
	buf := &events.Buffer{}
	adapters := []probe.Adapter{
		&stubAdapter{kind: probe.KindStream, out: probe.Skipped()},
		&stubAdapter{kind: probe.KindTransfer, out: probe.Skipped()},
	}
	rec := New(adapters, newInvoker(t), Metadata{}, WithRecorder(buf)).Run(context.Background(), 1)
	if rec.ErrorCount != 0 || len(rec.Notes) != 0 {
		t.Fatalf("expected no notes, got %v", rec.Notes)
	}
	skipped := 0
	for _, ty := range buf.Types() {
		if ty == types.EventProbeSkipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Fatalf("expected two skipped events, got %d", skipped)
	}
}

func TestTimeoutNote(t *testing.T) {
	slow := &stubAdapter{kind: probe.KindDatagram, delay: time.Second, out: probe.Success(probe.DatagramSamples{})}
	c := New([]probe.Adapter{slow}, newInvoker(t), Metadata{}, WithTimeout(probe.KindDatagram, 20*time.Millisecond))

	rec := c.Run(context.Background(), 1)
	if rec.ErrorCount != 1 || len(rec.Notes) != 1 || rec.Notes[0] != "udp: timeout" {
		t.Fatalf("unexpected notes %v", rec.Notes)
	}
	if rec.Datagram != nil {
		t.Fatalf("timeout must not fold samples")
	}
}

type budgeted struct {
	stubAdapter
	budget time.Duration
}

func (b *budgeted) Budget() time.Duration { return b.budget }

func TestTimeoutResolution(t *testing.T) {
	c := New(nil, newInvoker(t), Metadata{}, WithTimeout(probe.KindLatency, 3*time.Second))
	if got := c.Timeout(&stubAdapter{kind: probe.KindLatency}); got != 3*time.Second {
		t.Fatalf("expected configured timeout, got %s", got)
	}
	if got := c.Timeout(&budgeted{stubAdapter: stubAdapter{kind: probe.KindStream}, budget: 50 * time.Second}); got != 50*time.Second {
		t.Fatalf("expected adapter budget, got %s", got)
	}
	if got := c.Timeout(&stubAdapter{kind: probe.KindRadio}); got != 10*time.Second {
		t.Fatalf("expected default timeout, got %s", got)
	}
}

func TestPhaseReturnsToIdle(t *testing.T) {
	c := New(successfulAdapters(), newInvoker(t), Metadata{})
	c.Run(context.Background(), 1)
	if phase, kind := c.Phase(); phase != PhaseIdle || kind != "" {
		t.Fatalf("expected idle after cycle, got %s/%s", phase, kind)
	}
}

func TestRunIDFormat(t *testing.T) {
	id := NewRunID()
	if len(id) != 8 {
		t.Fatalf("expected 8 characters, got %q", id)
	}
	if got := MeasurementID(id, 12); got != id+"-0012" {
		t.Fatalf("unexpected measurement id %q", got)
	}
}

// sequenceAdapter returns its outcomes in order and repeats the last one.
type sequenceAdapter struct {
	kind  probe.Kind
	outs  []probe.Outcome
	calls int
}

func (s *sequenceAdapter) Kind() probe.Kind { return s.kind }

func (s *sequenceAdapter) Run(ctx context.Context) probe.Outcome {
	out := s.outs[min(s.calls, len(s.outs)-1)]
	s.calls++
	return out
}

func TestRetryRecoversWithoutNote(t *testing.T) {
	radio := &sequenceAdapter{kind: probe.KindRadio, outs: []probe.Outcome{
		probe.Failuref("iw: device busy"),
		probe.Success(probe.RadioSamples{SSID: "office", RSSI: types.Float(-60)}),
	}}
	buf := &events.Buffer{}
	c := New([]probe.Adapter{radio}, newInvoker(t), Metadata{}, WithAttempts(probe.KindRadio, 2), WithRecorder(buf))

	rec := c.Run(context.Background(), 1)
	if radio.calls != 2 {
		t.Fatalf("expected 2 attempts got %d", radio.calls)
	}
	if rec.ErrorCount != 0 || len(rec.Notes) != 0 {
		t.Fatalf("a recovered probe must not count as an error, got %d %v", rec.ErrorCount, rec.Notes)
	}
	if rec.Radio == nil || rec.Radio.SSID != "office" {
		t.Fatalf("expected radio block from the second attempt, got %+v", rec.Radio)
	}
	got := buf.Types()
	want := []types.EventType{types.EventCycleStarted, types.EventProbeRetried, types.EventProbeCompleted, types.EventCycleCompleted}
	if len(got) != len(want) {
		t.Fatalf("expected events %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v got %v", want, got)
		}
	}
}

func TestRetriesExhaustedCountOnce(t *testing.T) {
	stream := &sequenceAdapter{kind: probe.KindStream, outs: []probe.Outcome{probe.Failuref("connection refused")}}
	c := New([]probe.Adapter{stream}, newInvoker(t), Metadata{}, WithAttempts(probe.KindStream, 3))

	rec := c.Run(context.Background(), 1)
	if stream.calls != 3 {
		t.Fatalf("expected 3 attempts got %d", stream.calls)
	}
	if rec.ErrorCount != 1 || len(rec.Notes) != 1 {
		t.Fatalf("expected a single error, got %d %v", rec.ErrorCount, rec.Notes)
	}
	if rec.Notes[0] != "tcp: failed after 3 attempts: connection refused" {
		t.Fatalf("unexpected note %q", rec.Notes[0])
	}
}

func TestEachAttemptGetsFullTimeout(t *testing.T) {
	slow := &stubAdapter{kind: probe.KindDatagram, delay: time.Second, out: probe.Success(probe.DatagramSamples{})}
	c := New([]probe.Adapter{slow}, newInvoker(t), Metadata{},
		WithTimeout(probe.KindDatagram, 40*time.Millisecond), WithAttempts(probe.KindDatagram, 2))

	start := time.Now()
	rec := c.Run(context.Background(), 1)
	elapsed := time.Since(start)
	if elapsed < 80*time.Millisecond {
		t.Fatalf("expected two full budgets, cycle took %s", elapsed)
	}
	if rec.ErrorCount != 1 || len(rec.Notes) != 1 || rec.Notes[0] != "udp: timeout after 2 attempts" {
		t.Fatalf("unexpected notes %v (errors %d)", rec.Notes, rec.ErrorCount)
	}
}

func TestSkippedOutcomeIsNotRetried(t *testing.T) {
	file := &sequenceAdapter{kind: probe.KindTransfer, outs: []probe.Outcome{probe.Skipped()}}
	c := New([]probe.Adapter{file}, newInvoker(t), Metadata{}, WithAttempts(probe.KindTransfer, 3))
	c.Run(context.Background(), 1)
	if file.calls != 1 {
		t.Fatalf("expected a single call for a skipped probe, got %d", file.calls)
	}
	if got := c.Attempts(probe.KindLatency); got != 1 {
		t.Fatalf("expected one attempt by default, got %d", got)
	}
}
