// Package httputil holds request helpers shared by the HTTP handlers.
package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address a request originated from. With trustProxy
// the proxy headers are consulted first, in order: Forwarded (RFC 7239
// "for="), the leftmost X-Forwarded-For entry, then X-Real-IP. Header values
// that are not IP addresses are skipped. Only enable trustProxy behind a
// reverse proxy that overwrites these headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip, ok := forwardedFor(r.Header.Get("Forwarded")); ok {
			return ip
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseIP(first); ok {
				return ip
			}
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor extracts the first for= node of a Forwarded header.
func forwardedFor(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	first, _, _ := strings.Cut(h, ",")
	for _, pair := range strings.Split(first, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && strings.EqualFold(key, "for") {
			return parseIP(value)
		}
	}
	return "", false
}

// parseIP accepts a bare address, a quoted one, or either with a port, and
// returns the canonical address text.
func parseIP(s string) (string, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().String(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
