package helpers

import (
	"net"
	"strings"
)

// IPClassification represents the network classification of an IP address.
// URL validation uses it to flag links that point into internal networks.
type IPClassification int

const (
	// IPClassificationPublic indicates a publicly routable IP address.
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback indicates a loopback address (127.0.0.0/8, ::1).
	IPClassificationLoopback
	// IPClassificationPrivate indicates a private/internal address (RFC 1918, ULA).
	IPClassificationPrivate
	// IPClassificationLinkLocal indicates a link-local address (169.254.x.x, fe80::/10).
	IPClassificationLinkLocal
	// IPClassificationUnspecified indicates an unspecified address (0.0.0.0, ::).
	IPClassificationUnspecified
)

// String returns a human-readable name for the IP classification.
func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP returns the network classification of an IP address.
//
// Classifications:
//   - Unspecified: 0.0.0.0, ::
//   - Loopback: 127.0.0.0/8, ::1
//   - LinkLocal: 169.254.0.0/16, fe80::/10 (includes cloud metadata endpoints)
//   - Private: RFC 1918 (10/8, 172.16/12, 192.168/16), fc00::/7
//   - Public: All other addresses
func ClassifyIP(ip net.IP) IPClassification {
	if ip == nil {
		return IPClassificationUnspecified
	}

	if ip.IsUnspecified() {
		return IPClassificationUnspecified
	}

	if ip.IsLoopback() {
		return IPClassificationLoopback
	}

	if IsLinkLocal(ip) {
		return IPClassificationLinkLocal
	}

	// Covers RFC 1918 (IPv4) and fc00::/7 (IPv6 ULA)
	if ip.IsPrivate() {
		return IPClassificationPrivate
	}

	return IPClassificationPublic
}

// IsInternalHost reports whether a URL hostname is a localhost name or an
// IP literal outside public address space. Other names cannot be resolved
// without DNS and count as external.
func IsInternalHost(host string) bool {
	if IsLoopbackHostname(host) {
		return true
	}
	ip := hostIP(host)
	return ip != nil && IsPrivateOrInternal(ip)
}

// IsLinkLocal checks if an IP address is link-local (unicast or multicast).
// This includes:
//   - IPv4 link-local: 169.254.0.0/16 (also catches cloud metadata 169.254.169.254)
//   - IPv6 link-local unicast: fe80::/10
//   - IPv6 link-local multicast: ff02::/16
func IsLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsPrivateOrInternal checks if an IP is private, loopback, link-local, or unspecified.
func IsPrivateOrInternal(ip net.IP) bool {
	return ClassifyIP(ip) != IPClassificationPublic
}

// IsLoopbackHostname checks if a hostname represents a loopback address.
// This includes "localhost" and its subdomains, the entire 127.0.0.0/8 range
// (RFC 1122) and IPv6 ::1. Expects hostname without port (as returned by
// url.URL.Hostname()).
//
// Note: This function does NOT consider 0.0.0.0 as loopback (it's "unspecified").
func IsLoopbackHostname(hostname string) bool {
	name := strings.TrimSuffix(strings.ToLower(hostname), ".")
	if name == "localhost" || strings.HasSuffix(name, ".localhost") {
		return true
	}

	if ip := hostIP(hostname); ip != nil {
		return ip.IsLoopback()
	}

	return false
}

// hostIP parses an IP literal hostname, accepting brackets and an IPv6 zone
// such as fe80::1%eth0. It returns nil for names.
func hostIP(host string) net.IP {
	clean := strings.TrimSuffix(stripBrackets(host), ".")
	if i := strings.IndexByte(clean, '%'); i >= 0 {
		clean = clean[:i]
	}
	return net.ParseIP(clean)
}

// stripBrackets removes the brackets around an IPv6 literal like [::1].
func stripBrackets(host string) string {
	if len(host) > 2 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}
