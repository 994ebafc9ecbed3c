package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/api/middleware"
)

func TestRateLimiter_Allow(t *testing.T) {
	// Create a limiter: 5 requests per second, burst of 5
	rl := middleware.NewRateLimiter(5, time.Second, 5)
	defer rl.Stop()

	key := "test-client"

	// Should allow first 5 requests (burst)
	for i := 0; i < 5; i++ {
		if !rl.Allow(key) {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// 6th request should be denied
	if rl.Allow(key) {
		t.Error("6th request should be denied")
	}
}

func TestRateLimiter_TokenRefill(t *testing.T) {
	// Create a limiter: 10 requests per 100ms, burst of 2
	rl := middleware.NewRateLimiter(10, 100*time.Millisecond, 2)

	key := "test-client"

	// Use up the burst
	rl.Allow(key)
	rl.Allow(key)

	// Should be denied now
	if rl.Allow(key) {
		t.Error("Should be denied after burst exhausted")
	}

	// Wait for refill
	time.Sleep(110 * time.Millisecond)

	// Should be allowed again
	if !rl.Allow(key) {
		t.Error("Should be allowed after token refill")
	}
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	rl := middleware.NewRateLimiter(2, time.Second, 2)

	client1 := "client-1"
	client2 := "client-2"

	// Each client has their own bucket
	rl.Allow(client1)
	rl.Allow(client1)

	// Client 1 should be denied
	if rl.Allow(client1) {
		t.Error("Client 1 should be denied")
	}

	// Client 2 should still be allowed
	if !rl.Allow(client2) {
		t.Error("Client 2 should be allowed")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	rl := middleware.NewRateLimiter(5, time.Second, 5)
	key := "test-client"

	// Initially should have full burst
	if remaining := rl.Remaining(key); remaining != 5 {
		t.Errorf("Remaining = %d; want 5", remaining)
	}

	// After one request
	rl.Allow(key)
	if remaining := rl.Remaining(key); remaining != 4 {
		t.Errorf("Remaining = %d; want 4", remaining)
	}

	// After exhausting
	rl.Allow(key)
	rl.Allow(key)
	rl.Allow(key)
	rl.Allow(key)

	if remaining := rl.Remaining(key); remaining != 0 {
		t.Errorf("Remaining = %d; want 0", remaining)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	config := middleware.DefaultRateLimitConfig()

	if config.RequestsPerMinute <= 0 {
		t.Error("RequestsPerMinute should be positive")
	}
	if config.ExpensiveRequestsPerMinute <= 0 {
		t.Error("ExpensiveRequestsPerMinute should be positive")
	}
	if config.BurstMultiplier <= 0 {
		t.Error("BurstMultiplier should be positive")
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := middleware.NewRateLimiter(1, time.Minute, 1)
	defer rl.Stop()

	h := middleware.RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		ip         string
		wantStatus int
	}{
		{"first request", "10.0.0.1", http.StatusOK},
		{"second request same ip", "10.0.0.1", http.StatusTooManyRequests},
		{"other ip", "10.0.0.2", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
			req.Header.Set("X-Forwarded-For", tt.ip+", 192.168.1.1")
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, "9.9.9.9:1234", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "4.3.2.1"}, "9.9.9.9:1234", "4.3.2.1"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"remote addr without port", nil, "9.9.9.9", "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := middleware.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc-123" {
		t.Errorf("GetRequestID() = %q; want %q", seen, "abc-123")
	}
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID header = %q; want %q", got, "abc-123")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Errorf("generated request ID = %q; want a fresh ID", seen)
	}
}

func TestRecovery(t *testing.T) {
	h := middleware.Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d; want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestCORS(t *testing.T) {
	h := middleware.CORS("http://localhost:3000/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{"allowed origin", http.MethodGet, "http://localhost:3000", false, http.StatusOK, "http://localhost:3000"},
		{"foreign origin", http.MethodGet, "http://evil.example", false, http.StatusOK, ""},
		{"preflight", http.MethodOptions, "http://localhost:3000", true, http.StatusNoContent, "http://localhost:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/auth/me", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d; want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q; want %q", got, tt.wantOrigin)
			}
		})
	}
}
