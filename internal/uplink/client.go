// Package uplink posts measurement records to a remote collector.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

const (
	defaultRecordsPath = "/api/v1/measurements"
	userAgent          = "wlan-scanner/1"
)

type Config struct {
	// ServerURL is either a bare origin, in which case records go to the
	// default path, or a full endpoint URL.
	ServerURL string
	Device    string
}

type Dependencies struct {
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     logrus.FieldLogger
}

type Client struct {
	httpClient *http.Client
	recordsURL string
	device     string
	now        func() time.Time
	logger     logrus.FieldLogger
	seq        atomic.Uint64
}

func NewClient(cfg Config, deps Dependencies) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	endpoint, err := recordsURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Client{
		httpClient: httpClient,
		recordsURL: endpoint,
		device:     cfg.Device,
		now:        now,
		logger:     logger,
	}, nil
}

// Send posts one envelope holding records. Any non-2xx answer is an error and
// the caller keeps the records for a later attempt.
func (c *Client) Send(ctx context.Context, records []types.MeasurementRecord) error {
	if len(records) == 0 {
		return nil
	}

	envelope := types.RecordEnvelope{
		Device:   c.device,
		SentAt:   c.now().UTC(),
		BatchSeq: c.seq.Add(1),
		Columns:  types.Columns(),
		Records:  append([]types.MeasurementRecord(nil), records...),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal record envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.recordsURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build records request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send records: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("records upload failed: status %s", resp.Status)
	}

	c.logger.WithFields(logrus.Fields{
		"batch_seq": envelope.BatchSeq,
		"records":   len(records),
	}).Debug("records uploaded")
	return nil
}

func recordsURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse uplink url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("uplink url %q must be http or https", raw)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = defaultRecordsPath
	}
	return u.String(), nil
}
