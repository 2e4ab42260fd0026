package addrutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Port extracts the TCP port from a peer address as written in node logs.
//
// Socket addresses are logged in the "hostname/ip:port" form, where the
// hostname is frequently empty ("/127.0.0.1:63863"). IPv6 hosts may be
// bracketed or not.
func Port(addr string) (int, error) {
	a := strings.TrimSpace(addr)
	if i := strings.LastIndexByte(a, '/'); i >= 0 {
		a = a[i+1:]
	}
	if a == "" {
		return 0, fmt.Errorf("empty address %q", addr)
	}

	raw := ""
	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if _, p, err := net.SplitHostPort(a); err == nil {
		raw = p
	} else if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		// Unbracketed IPv6 "host:port": peel off the last ":port".
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			raw = a[last+1:]
		}
	}
	if raw == "" {
		return 0, fmt.Errorf("address %q has no port", addr)
	}

	port, err := strconv.Atoi(raw)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("address %q has invalid port %q", addr, raw)
	}
	return port, nil
}
