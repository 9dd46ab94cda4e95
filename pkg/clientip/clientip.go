package clientip

import (
	"net"
	"net/http"
	"strings"
)

// TrustForwarded makes Of honour X-Forwarded-For and X-Real-IP. Leave it off
// unless every request passes through a proxy that overwrites them.
var TrustForwarded bool

// Of returns the client address of r without the port.
func Of(r *http.Request) string {
	if TrustForwarded {
		if ip := forwarded(r); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

// forwarded returns the left-most valid X-Forwarded-For entry, then X-Real-IP.
func forwarded(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ""
}
