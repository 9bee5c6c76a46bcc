// Package transfer times a file upload or download against an HTTP(S), FTP
// or SMB server.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/TakashiAihara/wlan-scanner/internal/probe"
)

const payloadPattern = "0123456789ABCDEF"

type Config struct {
	Server             string
	Protocol           string
	Direction          string
	Size               int64
	RemotePath         string
	Share              string
	Username           string
	Password           string
	SampleInterval     time.Duration
	InsecureSkipVerify bool
	TempDir            string
}

// Transport moves one file to or from the server.
type Transport interface {
	Upload(ctx context.Context, remote string, r io.Reader, size int64) error
	Download(ctx context.Context, remote string, w io.Writer) error
	Close() error
}

type Dependencies struct {
	Dial func(ctx context.Context, cfg Config) (Transport, error)
	Now  func() time.Time
}

type Adapter struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Adapter {
	cfg.Protocol = strings.ToLower(strings.TrimSpace(cfg.Protocol))
	cfg.Direction = strings.ToLower(strings.TrimSpace(cfg.Direction))
	if cfg.Protocol == "" {
		cfg.Protocol = "http"
	}
	if cfg.Direction == "" {
		cfg.Direction = "download"
	}
	if cfg.Size <= 0 {
		cfg.Size = 100 * 1000 * 1000
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 250 * time.Millisecond
	}
	if cfg.RemotePath == "" {
		cfg.RemotePath = defaultRemotePath(cfg.Protocol, cfg.Direction)
	}
	if deps.Dial == nil {
		deps.Dial = Dial
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Adapter{cfg: cfg, deps: deps}
}

func defaultRemotePath(protocol, direction string) string {
	switch {
	case protocol == "http" || protocol == "https":
		if direction == "upload" {
			return "/upload"
		}
		return "/test_file.dat"
	default:
		return "test_file.dat"
	}
}

func (a *Adapter) Kind() probe.Kind { return probe.KindTransfer }

func (a *Adapter) Budget() time.Duration { return 300 * time.Second }

func (a *Adapter) Run(ctx context.Context) probe.Outcome {
	if a.cfg.Server == "" {
		return probe.Skipped()
	}
	if a.cfg.Direction != "upload" && a.cfg.Direction != "download" {
		return probe.Failuref("unsupported direction %q", a.cfg.Direction)
	}

	t, err := a.deps.Dial(ctx, a.cfg)
	if err != nil {
		return probe.Failure(err.Error(), nil)
	}
	defer t.Close()

	var (
		moved   int64
		elapsed time.Duration
		speeds  []float64
	)
	if a.cfg.Direction == "upload" {
		moved, elapsed, speeds, err = a.upload(ctx, t)
	} else {
		moved, elapsed, speeds, err = a.download(ctx, t)
	}
	if err != nil {
		return probe.Failure(err.Error(), nil)
	}
	if moved == 0 {
		return probe.Failuref("%s %s moved no data", a.cfg.Protocol, a.cfg.Direction)
	}
	return probe.Success(probe.TransferSamples{
		Protocol:     a.cfg.Protocol,
		Direction:    a.cfg.Direction,
		Bytes:        moved,
		Duration:     elapsed,
		IntervalMBps: speeds,
	})
}

func (a *Adapter) upload(ctx context.Context, t Transport) (int64, time.Duration, []float64, error) {
	path, err := writePayload(a.cfg.TempDir, a.cfg.Size)
	if err != nil {
		return 0, 0, nil, err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	m := startMeter(a.cfg.SampleInterval, a.deps.Now)
	start := a.deps.Now()
	err = t.Upload(ctx, a.cfg.RemotePath, &meteredReader{r: f, m: m}, a.cfg.Size)
	elapsed := a.deps.Now().Sub(start)
	speeds := m.stop()
	if err != nil {
		return 0, 0, nil, err
	}
	return m.total(), elapsed, speeds, nil
}

func (a *Adapter) download(ctx context.Context, t Transport) (int64, time.Duration, []float64, error) {
	f, err := os.CreateTemp(a.cfg.TempDir, "wlan-download-*.dat")
	if err != nil {
		return 0, 0, nil, fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	m := startMeter(a.cfg.SampleInterval, a.deps.Now)
	start := a.deps.Now()
	err = t.Download(ctx, a.cfg.RemotePath, &meteredWriter{w: f, m: m})
	elapsed := a.deps.Now().Sub(start)
	speeds := m.stop()
	if err != nil {
		return 0, 0, nil, err
	}
	return m.total(), elapsed, speeds, nil
}

// writePayload creates a temp file of size bytes filled with payloadPattern.
func writePayload(dir string, size int64) (string, error) {
	f, err := os.CreateTemp(dir, "wlan-upload-*.dat")
	if err != nil {
		return "", fmt.Errorf("create payload: %w", err)
	}
	path := f.Name()

	block := []byte(strings.Repeat(payloadPattern, 4096))
	remaining := size
	for remaining > 0 {
		chunk := block
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if _, err := f.Write(chunk); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write payload: %w", err)
		}
		remaining -= int64(len(chunk))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("sync payload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close payload: %w", err)
	}
	return path, nil
}

// Dial opens the transport for cfg.Protocol.
func Dial(ctx context.Context, cfg Config) (Transport, error) {
	switch cfg.Protocol {
	case "http", "https":
		return newHTTPTransport(cfg), nil
	case "ftp":
		return dialFTP(ctx, cfg)
	case "smb":
		return dialSMB(ctx, cfg)
	default:
		return nil, errors.New("unsupported protocol " + cfg.Protocol)
	}
}
