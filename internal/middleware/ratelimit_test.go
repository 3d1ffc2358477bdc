package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitEnforcesPerClientWindow(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	submit := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/tryon", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := submit("203.0.113.1:5000"); code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i+1, code)
		}
	}
	if code := submit("203.0.113.1:5000"); code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", code)
	}

	// A different client has its own bucket.
	if code := submit("198.51.100.7:5000"); code != http.StatusAccepted {
		t.Fatalf("other client throttled: status = %d", code)
	}
}

func TestRateLimitKeysOnForwardedClient(t *testing.T) {
	handler := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Two users behind the same proxy must not share a bucket.
	for i, client := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/tryon", nil)
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("client %d throttled on first request: %d", i+1, rec.Code)
		}
	}
}

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{
			name:       "forwarded ip wins over proxy addr",
			header:     "203.0.113.1",
			remoteAddr: "10.0.0.1:443",
			want:       "203.0.113.1",
		},
		{
			name:       "chained proxies use originating client",
			header:     " 203.0.113.1 , 10.0.0.2 ",
			remoteAddr: "10.0.0.1:443",
			want:       "203.0.113.1",
		},
		{
			name:       "garbage forwarded header falls back to remote",
			header:     "not-an-ip",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "direct connection",
			header:     "",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 client",
			header:     "2001:db8::1",
			remoteAddr: "10.0.0.1:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote without port",
			header:     "",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}
