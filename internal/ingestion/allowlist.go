package ingestion

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Allowlist matches peer addresses against single IPs and CIDR ranges.
// An empty Allowlist allows everything.
type Allowlist struct {
	prefixes []netip.Prefix
}

func ParseAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("allowlist entry %q: %w", e, err)
			}
			a.prefixes = append(a.prefixes, p.Masked())
			continue
		}
		ip, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("allowlist entry %q: %w", e, err)
		}
		ip = ip.Unmap()
		a.prefixes = append(a.prefixes, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return a, nil
}

func (a *Allowlist) Empty() bool { return a == nil || len(a.prefixes) == 0 }

// Allows reports whether addr (an IP or host:port) is permitted.
func (a *Allowlist) Allows(addr string) bool {
	if a.Empty() {
		return true
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
