package transfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type httpTransport struct {
	base   string
	client *http.Client
}

func newHTTPTransport(cfg Config) *httpTransport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Protocol == "https" && cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // lab servers use self-signed certificates
	}
	base := cfg.Server
	if !strings.Contains(base, "://") {
		base = cfg.Protocol + "://" + base
	}
	return &httpTransport{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Transport: transport},
	}
}

func (t *httpTransport) url(remote string) string {
	if !strings.HasPrefix(remote, "/") {
		remote = "/" + remote
	}
	return t.base + remote
}

func (t *httpTransport) Upload(ctx context.Context, remote string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(remote), r)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http upload: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	default:
		return fmt.Errorf("http upload failed with status %d", resp.StatusCode)
	}
}

func (t *httpTransport) Download(ctx context.Context, remote string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url(remote), nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http download failed with status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("http download: %w", err)
	}
	return nil
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
