package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

const ftpDialTimeout = 30 * time.Second

type ftpTransport struct {
	conn  *ftp.ServerConn
	conns *connSet
	stop  func() bool
}

// connSet tracks the control and data connections of one FTP session so a
// cancelled context can unblock any read or write in flight.
type connSet struct {
	mu     sync.Mutex
	conns  []net.Conn
	closed bool
}

func (s *connSet) add(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return
	}
	s.conns = append(s.conns, c)
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func dialFTP(ctx context.Context, cfg Config) (*ftpTransport, error) {
	addr := withDefaultPort(cfg.Server, "21")
	conns := &connSet{}
	dialer := net.Dialer{Timeout: ftpDialTimeout}
	dial := func(network, address string) (net.Conn, error) {
		c, err := dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		conns.add(c)
		return c, nil
	}
	// Closing the sockets is the only way to interrupt Stor, Retr and the
	// control reads once they have started.
	stop := context.AfterFunc(ctx, conns.closeAll)

	conn, err := ftp.Dial(addr, ftp.DialWithDialFunc(dial))
	if err != nil {
		stop()
		conns.closeAll()
		return nil, fmt.Errorf("connect ftp %s: %w", addr, ctxErr(ctx, err))
	}
	user, pass := cfg.Username, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		stop()
		conns.closeAll()
		return nil, fmt.Errorf("ftp login: %w", ctxErr(ctx, err))
	}
	return &ftpTransport{conn: conn, conns: conns, stop: stop}, nil
}

func (t *ftpTransport) Upload(ctx context.Context, remote string, r io.Reader, size int64) error {
	if err := t.conn.Stor(remote, r); err != nil {
		return fmt.Errorf("ftp upload: %w", ctxErr(ctx, err))
	}
	return nil
}

func (t *ftpTransport) Download(ctx context.Context, remote string, w io.Writer) error {
	resp, err := t.conn.Retr(remote)
	if err != nil {
		return fmt.Errorf("ftp download: %w", ctxErr(ctx, err))
	}
	if _, err := io.Copy(w, resp); err != nil {
		resp.Close()
		return fmt.Errorf("ftp download: %w", ctxErr(ctx, err))
	}
	if err := resp.Close(); err != nil {
		return fmt.Errorf("ftp download: %w", ctxErr(ctx, err))
	}
	return nil
}

func (t *ftpTransport) Close() error {
	if !t.stop() {
		// Already torn down by the context.
		return nil
	}
	err := t.conn.Quit()
	t.conns.closeAll()
	return err
}

// ctxErr prefers the context error over the socket error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func withDefaultPort(server, port string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, port)
}
