package ratelimit

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/rryowa/basicauth/internal/util"
)

// UnknownSubject is the shared bucket for callers whose address cannot be trusted.
const UnknownSubject = "unknown"

var plausibleIP = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$|^[0-9a-fA-F:.]+$`)

// ClientIP resolves the rate-limit subject. With proxy trust enabled only the first
// entry of the configured forwarded header counts, and a missing or malformed value
// maps to UnknownSubject.
func ClientIP(r *http.Request, cfg *util.ProxyConfig) string {
	if cfg != nil && cfg.TrustProxy {
		first := firstListValue(r.Header.Get(cfg.ForwardedForHeader))
		if first == "" || !plausibleIP.MatchString(first) {
			return UnknownSubject
		}
		return first
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return UnknownSubject
	}
	return host
}

// RequestHost returns the lowercased host the client addressed, or "" when unknown.
func RequestHost(r *http.Request, cfg *util.ProxyConfig) string {
	if cfg != nil && cfg.TrustProxy {
		return strings.ToLower(firstListValue(r.Header.Get(cfg.ForwardedHostHeader)))
	}
	return strings.ToLower(strings.TrimSpace(r.Host))
}

func firstListValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
