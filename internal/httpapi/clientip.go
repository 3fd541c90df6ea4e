package httpapi

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the client address for rate limiting and abuse
// attribution: the first X-Forwarded-For entry, then X-Real-IP, then the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" && !strings.EqualFold(first, "unknown") {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" && !strings.EqualFold(rip, "unknown") {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
