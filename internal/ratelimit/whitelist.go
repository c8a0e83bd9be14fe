package ratelimit

import (
	"fmt"
	"net"
	"strings"
)

// DefaultWhitelist exempts loopback traffic.
var DefaultWhitelist = []string{"127.0.0.1/8", "::1/128"}

// Whitelist matches client addresses against single IPs and CIDR ranges.
type Whitelist struct {
	nets []*net.IPNet
}

func NewWhitelist(entries []string) (*Whitelist, error) {
	w := &Whitelist{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid whitelist address %q", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist range %q: %w", entry, err)
		}
		w.nets = append(w.nets, ipNet)
	}
	return w, nil
}

func (w *Whitelist) Contains(addr string) bool {
	if w == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range w.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
