package security

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIP is returned when no client address can be determined.
const UnknownIP = "unknown"

// IPExtractor derives the client address used for rate limit keys and audit events.
type IPExtractor func(r *http.Request) string

// ClientIP returns the client address of r, checking in order:
// the first X-Forwarded-For entry, X-Real-IP, X-Client-IP and the host part
// of RemoteAddr. It returns UnknownIP when all are empty.
//
// SECURITY: every header consulted here is client controlled unless a
// reverse proxy overwrites it. Deployments that sit behind a known number
// of proxies should use TrustedProxyExtractor instead.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Client-IP")); ip != "" {
		return ip
	}
	if ip := hostFromRemoteAddr(r.RemoteAddr); ip != "" {
		return ip
	}
	return UnknownIP
}

// TrustedProxyExtractor returns an IPExtractor for deployments behind
// trustedProxyCount reverse proxies (0 is treated as 1).
//
// X-Forwarded-For format: "client, proxy1, proxy2, ..."; the rightmost
// trustedProxyCount entries were appended by proxies we control, so the
// client is the entry just left of them. Entries that do not parse as an IP
// are ignored and the extractor falls back to X-Real-IP, then RemoteAddr.
func TrustedProxyExtractor(trustedProxyCount int) IPExtractor {
	return func(r *http.Request) string {
		if ip := clientFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
		if ip := hostFromRemoteAddr(r.RemoteAddr); ip != "" {
			return ip
		}
		return UnknownIP
	}
}

// clientFromXFF picks the client entry from an X-Forwarded-For value.
//
// Example with trustedProxyCount=2:
//
//	X-Forwarded-For: "1.2.3.4, untrusted-ip, proxy2-ip"
//	client index = len(ips) - trustedProxyCount - 1 = 0 -> "1.2.3.4"
func clientFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	proxies := max(trustedProxyCount, 1)
	idx := max(len(ips)-proxies-1, 0)

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

// hostFromRemoteAddr strips the port from RemoteAddr. Values without a port are returned as-is.
func hostFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}
