//go:build linux

package radio

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/vishvananda/netlink"
)

// SystemLinks lists interfaces over netlink. An interface counts as wireless
// when the kernel exposes a wireless directory for it.
func SystemLinks() ([]Link, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	out := make([]Link, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		if attrs == nil || attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		out = append(out, Link{
			Name:     attrs.Name,
			Up:       attrs.OperState == netlink.OperUp || (attrs.OperState == netlink.OperUnknown && attrs.Flags&net.FlagUp != 0),
			Wireless: isWireless(attrs.Name),
		})
	}
	return out, nil
}

func isWireless(name string) bool {
	if _, err := os.Stat(filepath.Join("/sys/class/net", name, "wireless")); err == nil {
		return true
	}
	return strings.HasPrefix(name, "wl")
}
