package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		proxies    int
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "remote addr without port", remoteAddr: "10.0.0.1", want: "10.0.0.1"},
		{
			name:       "xff ignored when proxy untrusted",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:       "10.0.0.1",
		},
		{
			name:       "xff with one trusted proxy",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"},
			trustProxy: true,
			want:       "1.2.3.4",
		},
		{
			name:       "xff with two trusted proxies",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 9.9.9.9, 5.6.7.8"},
			trustProxy: true,
			proxies:    2,
			want:       "1.2.3.4",
		},
		{
			name:       "invalid xff falls back to x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "garbage", "X-Real-IP": "4.4.4.4"},
			trustProxy: true,
			want:       "4.4.4.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.trustProxy, tt.proxies); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("keeps valid upstream id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "upstream-id_1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if seen != "upstream-id_1" || w.Header().Get(RequestIDHeader) != "upstream-id_1" {
			t.Errorf("request id = %q, header = %q", seen, w.Header().Get(RequestIDHeader))
		}
	})

	t.Run("replaces injected id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(RequestIDHeader, "bad\r\nid")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if seen == "bad\r\nid" || len(seen) != 22 {
			t.Errorf("request id = %q, want fresh 22 char id", seen)
		}
	})
}

func TestSetSecurityHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Cache-Control", "private")
	SetSecurityHeaders(h, true)

	if h.Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options not set")
	}
	if h.Get("Cache-Control") != "private" {
		t.Error("existing headers must not be overwritten")
	}
	if h.Get("Strict-Transport-Security") == "" {
		t.Error("HSTS should be set for TLS requests")
	}

	plain := http.Header{}
	SetSecurityHeaders(plain, false)
	if plain.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be set without TLS")
	}
}

func TestThrottle_EvictsAndCleans(t *testing.T) {
	th := NewThrottleWithMaxEntries(1, 1, 2, nil)
	defer th.Stop()

	th.Allow("a")
	th.Allow("b")
	th.Allow("c")
	if th.Len() != 2 {
		t.Errorf("Len() = %d, want 2 after eviction", th.Len())
	}

	th.Cleanup(-time.Second)
	if th.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after cleanup", th.Len())
	}
	th.Stop()
}
