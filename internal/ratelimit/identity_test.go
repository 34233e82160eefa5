package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/rryowa/basicauth/internal/util"
)

func TestClientIP(t *testing.T) {
	trusted := &util.ProxyConfig{
		TrustProxy:          true,
		ForwardedForHeader:  util.ForwardedForHeader,
		ForwardedHostHeader: util.ForwardedHostHeader,
	}
	realIP := &util.ProxyConfig{
		TrustProxy:         true,
		ForwardedForHeader: util.RealIPHeader,
	}

	tests := []struct {
		name    string
		cfg     *util.ProxyConfig
		headers map[string]string
		want    string
	}{
		{name: "remote address without trust", cfg: &util.ProxyConfig{}, headers: map[string]string{"X-Forwarded-For": "9.9.9.9"}, want: "192.0.2.1"},
		{name: "first forwarded entry", cfg: trusted, headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, want: "10.0.0.1"},
		{name: "ipv6 forwarded", cfg: trusted, headers: map[string]string{"X-Forwarded-For": "2001:db8::1"}, want: "2001:db8::1"},
		{name: "missing header", cfg: trusted, want: UnknownSubject},
		{name: "malformed header", cfg: trusted, headers: map[string]string{"X-Forwarded-For": "not-an-ip"}, want: UnknownSubject},
		{name: "real ip header", cfg: realIP, headers: map[string]string{"X-Real-IP": "10.1.1.1"}, want: "10.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.cfg); got != tt.want {
				t.Fatalf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestHost(t *testing.T) {
	r := httptest.NewRequest("POST", "http://App.Example.com/x", nil)
	if got := RequestHost(r, &util.ProxyConfig{}); got != "app.example.com" {
		t.Fatalf("RequestHost = %q", got)
	}

	trusted := &util.ProxyConfig{TrustProxy: true, ForwardedHostHeader: util.ForwardedHostHeader}
	if got := RequestHost(r, trusted); got != "" {
		t.Fatalf("trusted without forwarded host = %q, want empty", got)
	}

	r.Header.Set("X-Forwarded-Host", "Public.Example.com, internal")
	if got := RequestHost(r, trusted); got != "public.example.com" {
		t.Fatalf("RequestHost = %q", got)
	}
}
