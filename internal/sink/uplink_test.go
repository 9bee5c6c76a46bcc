package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/metrics"
	"github.com/TakashiAihara/wlan-scanner/internal/sink/spool"
	"github.com/TakashiAihara/wlan-scanner/internal/uplink"
	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

type flakySender struct {
	mu   sync.Mutex
	fail bool
	got  []string
}

func (f *flakySender) Send(ctx context.Context, records []types.MeasurementRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("collector unreachable")
	}
	for _, r := range records {
		f.got = append(f.got, r.MeasurementID)
	}
	return nil
}

func (f *flakySender) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakySender) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func openTestSpool(t *testing.T, dir string) *spool.Spool {
	t.Helper()
	s, err := spool.Open(dir, spool.Options{})
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	return s
}

func TestUplinkDeliveryFailureIsNotSinkFailure(t *testing.T) {
	store := metrics.NewStore()
	sender := &flakySender{fail: true}
	u := NewUplink(openTestSpool(t, t.TempDir()), sender, UplinkDependencies{Metrics: store.UplinkRecorder()})

	if err := u.Append(context.Background(), sampleRecord("r-0001")); err != nil {
		t.Fatalf("Append must succeed while the collector is down: %v", err)
	}
	if err := u.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error while collector is down")
	}
	if store.Snapshot().UplinkFailuresTotal != 1 {
		t.Fatalf("expected one uplink failure recorded")
	}

	sender.setFail(false)
	if err := u.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := sender.ids(); len(got) != 1 || got[0] != "r-0001" {
		t.Fatalf("expected spooled record delivered, got %v", got)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUplinkUndeliveredRecordsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	sender := &flakySender{fail: true}
	u := NewUplink(openTestSpool(t, dir), sender, UplinkDependencies{})
	for _, id := range []string{"r-0001", "r-0002"} {
		if err := u.Append(context.Background(), sampleRecord(id)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sender.setFail(false)
	restarted := NewUplink(openTestSpool(t, dir), sender, UplinkDependencies{})
	if err := restarted.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := sender.ids(); len(got) != 2 || got[1] != "r-0002" {
		t.Fatalf("expected both records after restart, got %v", got)
	}
	restarted.Close()
}

func TestUplinkBackgroundDrainPostsEnvelopes(t *testing.T) {
	var posted atomic.Int64
	received := make(chan types.RecordEnvelope, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env types.RecordEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		posted.Add(int64(len(env.Records)))
		received <- env
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := uplink.NewClient(uplink.Config{ServerURL: server.URL, Device: "laptop-7"},
		uplink.Dependencies{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	u := NewUplink(openTestSpool(t, t.TempDir()), client, UplinkDependencies{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	u.Start(ctx)

	if err := u.Append(context.Background(), sampleRecord("r-0001")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	select {
	case env := <-received:
		if env.Device != "laptop-7" || env.Records[0].MeasurementID != "r-0001" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("record was not delivered")
	}
	deadline := time.Now().Add(5 * time.Second)
	for u.ctrl.PendingBytes() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("delivered batch was never acknowledged")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if posted.Load() != 1 {
		t.Fatalf("expected exactly one record posted, got %d", posted.Load())
	}
}
