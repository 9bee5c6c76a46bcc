//go:build !linux

package radio

import (
	"fmt"
	"runtime"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// SystemLinks lists interfaces through gopsutil. Wireless detection is a
// naming heuristic since neither Windows nor macOS expose it there.
func SystemLinks() ([]Link, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]Link, 0, len(ifaces))
	for _, iface := range ifaces {
		if hasFlag(iface.Flags, "loopback") {
			continue
		}
		out = append(out, Link{
			Name:     iface.Name,
			Up:       hasFlag(iface.Flags, "up"),
			Wireless: isWireless(iface.Name),
		})
	}
	return out, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

func isWireless(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "wl"), strings.Contains(lower, "wi-fi"), strings.Contains(lower, "wireless"):
		return true
	case runtime.GOOS == "darwin" && lower == "en0":
		return true
	}
	return false
}
