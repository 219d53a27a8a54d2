package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIPForLoginAttempts(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", " "})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "direct client cannot spoof forwarded headers",
			remoteAddr: "198.51.100.10:41000",
			xff:        []string{"203.0.113.5"},
			xrip:       "203.0.113.6",
			trusted:    trusted,
			want:       "198.51.100.10",
		},
		{
			name:       "no proxies configured",
			remoteAddr: "10.0.0.20:41000",
			xff:        []string{"203.0.113.5"},
			want:       "10.0.0.20",
		},
		{
			name:       "load balancer hop is skipped",
			remoteAddr: "10.0.0.20:41000",
			xff:        []string{"203.0.113.5, 10.0.0.10"},
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "forwarded chain split over header lines",
			remoteAddr: "192.168.1.10:41000",
			xff:        []string{"198.51.100.77, 203.0.113.5", "10.0.0.10"},
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip when the chain is unusable",
			remoteAddr: "10.0.0.20:41000",
			xff:        []string{"garbage"},
			xrip:       "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "ipv4-mapped peer matches ipv4 range",
			remoteAddr: "[::ffff:10.1.2.3]:41000",
			xff:        []string{"203.0.113.9"},
			trusted:    trusted,
			want:       "203.0.113.9",
		},
		{
			name:       "ipv6 client",
			remoteAddr: "[2001:db8::1]:41000",
			want:       "2001:db8::1",
		},
		{
			name:       "only trusted hops returns leftmost",
			remoteAddr: "10.0.0.20:41000",
			xff:        []string{"10.0.0.5, 10.0.0.10"},
			trusted:    trusted,
			want:       "10.0.0.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/account/login", strings.NewReader(`{}`))
			req.RemoteAddr = tc.remoteAddr
			for _, line := range tc.xff {
				req.Header.Add("X-Forwarded-For", line)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	set, err := NewTrustedProxies(nil)
	if err != nil || set != nil {
		t.Fatalf("empty config should trust nobody, got %v err=%v", set, err)
	}
	for _, bad := range []string{"bad-cidr", "10.0.0.0/33", "300.1.1.1"} {
		if _, err := NewTrustedProxies([]string{bad}); err == nil || !strings.Contains(err.Error(), bad) {
			t.Fatalf("expected parse error naming %q, got %v", bad, err)
		}
	}
}
