package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		xClientIP     string
		want          string
	}{
		{
			name:       "direct connection",
			remoteAddr: "192.168.1.100:12345",
			want:       "192.168.1.100",
		},
		{
			name:          "first X-Forwarded-For entry",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: " 203.0.113.1 , 10.0.0.2",
			want:          "203.0.113.1",
		},
		{
			name:          "X-Forwarded-For preferred over X-Real-IP",
			remoteAddr:    "10.0.0.1:12345",
			xForwardedFor: "203.0.113.1",
			xRealIP:       "203.0.113.2",
			want:          "203.0.113.1",
		},
		{
			name:       "X-Real-IP",
			remoteAddr: "10.0.0.1:12345",
			xRealIP:    "203.0.113.2",
			xClientIP:  "203.0.113.3",
			want:       "203.0.113.2",
		},
		{
			name:       "X-Client-IP",
			remoteAddr: "10.0.0.1:12345",
			xClientIP:  "203.0.113.3",
			want:       "203.0.113.3",
		},
		{
			name:       "IPv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.5",
			want:       "192.0.2.5",
		},
		{
			name: "nothing available",
			want: UnknownIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if tt.xClientIP != "" {
				req.Header.Set("X-Client-IP", tt.xClientIP)
			}

			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrustedProxyExtractor(t *testing.T) {
	tests := []struct {
		name              string
		xForwardedFor     string
		xRealIP           string
		trustedProxyCount int
		want              string
	}{
		{
			name:              "no trusted proxies specified (default 1)",
			xForwardedFor:     "203.0.113.1, 10.0.0.2",
			trustedProxyCount: 0,
			want:              "203.0.113.1",
		},
		{
			name:              "spoofed leftmost entry is skipped",
			xForwardedFor:     "6.6.6.6, 203.0.113.1, 10.0.0.2",
			trustedProxyCount: 1,
			want:              "203.0.113.1",
		},
		{
			name:              "2 trusted proxies",
			xForwardedFor:     "203.0.113.1, 10.0.0.2, 10.0.0.3",
			trustedProxyCount: 2,
			want:              "203.0.113.1",
		},
		{
			name:              "more trusted proxies than IPs",
			xForwardedFor:     "203.0.113.1",
			trustedProxyCount: 5,
			want:              "203.0.113.1",
		},
		{
			name:              "invalid entry falls back to X-Real-IP",
			xForwardedFor:     "<script>, 10.0.0.2",
			xRealIP:           "203.0.113.9",
			trustedProxyCount: 1,
			want:              "203.0.113.9",
		},
		{
			name:              "invalid headers fall back to remote addr",
			xForwardedFor:     "garbage",
			xRealIP:           "also-garbage",
			trustedProxyCount: 1,
			want:              "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:12345"
			req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := TrustedProxyExtractor(tt.trustedProxyCount)(req); got != tt.want {
				t.Errorf("TrustedProxyExtractor(%d)() = %q, want %q", tt.trustedProxyCount, got, tt.want)
			}
		})
	}
}
