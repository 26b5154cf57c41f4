package tenant

import (
	"net"
	"net/http"
	"strings"
)

// EffectiveHost returns the normalized host of r. With trustProxy the first
// X-Forwarded-Host value wins over r.Host.
func EffectiveHost(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if h := forwardedHost(r); h != "" {
			return NormalizeHost(h)
		}
	}
	return NormalizeHost(r.Host)
}

func forwardedHost(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("X-Forwarded-Host"))
	if raw == "" {
		return ""
	}
	first, _, ok := strings.Cut(raw, ",")
	if ok {
		raw = first
	}
	return strings.TrimSpace(raw)
}

// NormalizeHost trims, strips any port and lower-cases a host.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = hostWithoutPort(host)
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(strings.TrimSpace(host))
}

func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.Trim(h, "[]")
	}
	if strings.Count(host, ":") == 1 {
		h, _, _ := strings.Cut(host, ":")
		return h
	}
	return strings.Trim(host, "[]")
}
