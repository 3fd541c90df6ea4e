package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	var tests = []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "10.0.0.1:54321",
			want:       "10.0.0.1",
		},
		{
			name:       "x-forwarded-for wins",
			forwarded:  "1.2.3.4",
			realIP:     "5.6.7.8",
			remoteAddr: "10.0.0.1:54321",
			want:       "1.2.3.4",
		},
		{
			name:       "first forwarded hop",
			forwarded:  "1.2.3.4, 172.16.0.1, 10.0.0.1",
			remoteAddr: "10.0.0.1:54321",
			want:       "1.2.3.4",
		},
		{
			name:       "unknown forwarded falls back to real ip",
			forwarded:  "unknown",
			realIP:     "5.6.7.8",
			remoteAddr: "10.0.0.1:54321",
			want:       "5.6.7.8",
		},
		{
			name:       "real ip without forwarded",
			realIP:     "5.6.7.8",
			remoteAddr: "10.0.0.1:54321",
			want:       "5.6.7.8",
		},
		{
			name:       "unparseable remote addr returned verbatim",
			remoteAddr: "not-a-hostport",
			want:       "not-a-hostport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/projects", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
