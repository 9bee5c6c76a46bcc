package uplink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

func TestClientSendPostsEnvelope(t *testing.T) {
	var mu sync.Mutex
	var requests []types.RecordEnvelope

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != defaultRecordsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		var env types.RecordEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		mu.Lock()
		requests = append(requests, env)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client, err := NewClient(
		Config{ServerURL: server.URL, Device: "lab-laptop"},
		Dependencies{HTTPClient: server.Client(), Now: func() time.Time { return time.Unix(123, 0) }},
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	records := []types.MeasurementRecord{{MeasurementID: "aa11bb22-0001"}, {MeasurementID: "aa11bb22-0002"}}
	if err := client.Send(context.Background(), records); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := client.Send(context.Background(), records[:1]); err != nil {
		t.Fatalf("Send second: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	first, second := requests[0], requests[1]
	if first.Device != "lab-laptop" || first.BatchSeq != 1 || len(first.Records) != 2 {
		t.Fatalf("unexpected first envelope: %+v", first)
	}
	if !first.SentAt.Equal(time.Unix(123, 0)) {
		t.Fatalf("expected injected clock, got %v", first.SentAt)
	}
	if len(first.Columns) != len(types.Columns()) {
		t.Fatalf("expected column list, got %v", first.Columns)
	}
	if second.BatchSeq != 2 {
		t.Fatalf("expected sequential batch seq, got %+v", second)
	}
}

func TestClientSendRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL}, Dependencies{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = client.Send(context.Background(), []types.MeasurementRecord{{MeasurementID: "x-0001"}})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error got %v", err)
	}
}

func TestClientSendEmptyIsNoop(t *testing.T) {
	client, err := NewClient(Config{ServerURL: "http://127.0.0.1:1"}, Dependencies{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Send(context.Background(), nil); err != nil {
		t.Fatalf("expected no request for empty batch, got %v", err)
	}
}

func TestRecordsURL(t *testing.T) {
	cases := map[string]string{
		"http://collector:8080":         "http://collector:8080/api/v1/measurements",
		"http://collector:8080/":        "http://collector:8080/api/v1/measurements",
		"https://collector/ingest/wlan": "https://collector/ingest/wlan",
	}
	for in, want := range cases {
		got, err := recordsURL(in)
		if err != nil {
			t.Fatalf("recordsURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("expected %s got %s", want, got)
		}
	}
	if _, err := recordsURL("ftp://collector"); err == nil {
		t.Fatalf("expected scheme error")
	}
}
