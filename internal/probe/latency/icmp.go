package latency

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Pinger sends one echo request and waits for the matching reply.
type Pinger interface {
	Ping(ctx context.Context, ip net.IP, seq int, size int, timeout time.Duration) (time.Duration, error)
	Close() error
}

type icmpPinger struct {
	conn      *icmp.PacketConn
	id        int
	proto     int
	echoType  icmp.Type
	replyType icmp.Type
	datagram  bool
}

// ListenICMP opens a raw ICMP socket for the address family, falling back to
// an unprivileged datagram socket when raw sockets are not permitted.
func ListenICMP(ipv6Family bool) (Pinger, error) {
	p := &icmpPinger{
		id:        os.Getpid() & 0xffff,
		proto:     1,
		echoType:  ipv4.ICMPTypeEcho,
		replyType: ipv4.ICMPTypeEchoReply,
	}
	rawNet, dgramNet, addr := "ip4:icmp", "udp4", "0.0.0.0"
	if ipv6Family {
		p.proto = 58
		p.echoType = ipv6.ICMPTypeEchoRequest
		p.replyType = ipv6.ICMPTypeEchoReply
		rawNet, dgramNet, addr = "ip6:ipv6-icmp", "udp6", "::"
	}

	conn, err := icmp.ListenPacket(rawNet, addr)
	if err != nil {
		var dgramErr error
		conn, dgramErr = icmp.ListenPacket(dgramNet, addr)
		if dgramErr != nil {
			return nil, fmt.Errorf("open icmp socket: %w", errors.Join(err, dgramErr))
		}
		p.datagram = true
	}
	p.conn = conn
	return p, nil
}

func (p *icmpPinger) Ping(ctx context.Context, ip net.IP, seq int, size int, timeout time.Duration) (time.Duration, error) {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	msg := icmp.Message{
		Type: p.echoType,
		Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq & 0xffff, Data: data},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshal echo: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if p.datagram {
		dst = &net.UDPAddr{IP: ip}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}

	start := time.Now()
	if _, err := p.conn.WriteTo(payload, dst); err != nil {
		return 0, fmt.Errorf("send echo: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := p.conn.ReadFrom(buf)
		if err != nil {
			return 0, fmt.Errorf("read echo reply: %w", err)
		}
		if !peerMatches(peer, ip) {
			continue
		}
		parsed, err := icmp.ParseMessage(p.proto, buf[:n])
		if err != nil || parsed.Type != p.replyType {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq&0xffff {
			continue
		}
		// the kernel rewrites the identifier on datagram sockets
		if !p.datagram && echo.ID != p.id {
			continue
		}
		return time.Since(start), nil
	}
}

func (p *icmpPinger) Close() error {
	return p.conn.Close()
}

func peerMatches(peer net.Addr, ip net.IP) bool {
	switch addr := peer.(type) {
	case *net.IPAddr:
		return addr.IP.Equal(ip)
	case *net.UDPAddr:
		return addr.IP.Equal(ip)
	default:
		return true
	}
}
