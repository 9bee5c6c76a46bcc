package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/hirochachacha/go-smb2"
)

type smbTransport struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
}

func dialSMB(ctx context.Context, cfg Config) (*smbTransport, error) {
	if cfg.Share == "" {
		return nil, errors.New("smb transfer requires file_transfer.share")
	}
	addr := withDefaultPort(cfg.Server, "445")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect smb %s: %w", addr, err)
	}
	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{User: cfg.Username, Password: cfg.Password},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smb session: %w", err)
	}
	share, err := session.Mount(cfg.Share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return nil, fmt.Errorf("mount %s: %w", cfg.Share, err)
	}
	return &smbTransport{conn: conn, session: session, share: share}, nil
}

func (t *smbTransport) Upload(ctx context.Context, remote string, r io.Reader, size int64) error {
	f, err := t.share.WithContext(ctx).Create(remote)
	if err != nil {
		return fmt.Errorf("smb create %s: %w", remote, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("smb upload: %w", err)
	}
	return f.Close()
}

func (t *smbTransport) Download(ctx context.Context, remote string, w io.Writer) error {
	f, err := t.share.WithContext(ctx).Open(remote)
	if err != nil {
		return fmt.Errorf("smb open %s: %w", remote, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("smb download: %w", err)
	}
	return nil
}

func (t *smbTransport) Close() error {
	err := errors.Join(t.share.Umount(), t.session.Logoff())
	t.conn.Close()
	return err
}
