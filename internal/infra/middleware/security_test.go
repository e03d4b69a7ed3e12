package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'self'",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}

	for header, expectedValue := range expectedHeaders {
		if got := w.Header().Get(header); got != expectedValue {
			t.Errorf("Header %s = %q, want %q", header, got, expectedValue)
		}
	}

	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS header should not be set without TLS, got: %q", hsts)
	}
}

func TestSecurityHeaders_HSTS_WithTLS(t *testing.T) {
	handler := SecurityHeaders(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	expectedHSTS := "max-age=31536000; includeSubDomains"
	if got := w.Header().Get("Strict-Transport-Security"); got != expectedHSTS {
		t.Errorf("HSTS = %q, want %q", got, expectedHSTS)
	}
}

func TestRateLimit_AllowsNormalTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 60, 10)(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimit_BlocksExcessiveTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 6, 3)(okHandler())

	successCount := 0
	blockedCount := 0

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Code == http.StatusOK {
			successCount++
		} else if w.Code == http.StatusTooManyRequests {
			blockedCount++
		}
	}

	if successCount != 3 {
		t.Errorf("Expected 3 successful requests, got %d", successCount)
	}
	if blockedCount != 7 {
		t.Errorf("Expected 7 blocked requests, got %d", blockedCount)
	}
}

func TestRateLimit_SeparatesClientsByIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, 6, 2)(okHandler())

	client1Blocked := false
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			client1Blocked = true
		}
	}

	client2Success := 0
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.2:12345"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			client2Success++
		}
	}

	if !client1Blocked {
		t.Error("Client 1 should have been rate limited")
	}
	if client2Success != 2 {
		t.Errorf("Client 2 should have 2 successful requests, got %d", client2Success)
	}
}

func TestGetClientIP_SpoofingPrevention(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xForwardedFor  string
		trustedProxies []string
		wantIP         string
	}{
		{
			name:           "untrusted source with XFF",
			remoteAddr:     "1.2.3.4:12345",
			xForwardedFor:  "8.8.8.8",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "1.2.3.4",
		},
		{
			name:           "no trusted proxies with XFF",
			remoteAddr:     "1.2.3.4:12345",
			xForwardedFor:  "8.8.8.8",
			trustedProxies: nil,
			wantIP:         "1.2.3.4",
		},
		{
			name:           "trusted proxy with XFF",
			remoteAddr:     "192.168.1.1:12345",
			xForwardedFor:  "8.8.8.8",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "8.8.8.8",
		},
		{
			name:           "XFF chain takes first hop",
			remoteAddr:     "192.168.1.1:12345",
			xForwardedFor:  "203.0.113.1, 198.51.100.1",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "203.0.113.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}

			if got := getClientIP(req, tt.trustedProxies); got != tt.wantIP {
				t.Errorf("getClientIP() = %q, want %q", got, tt.wantIP)
			}
		})
	}
}

func TestGetClientIP_XRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Real-IP", "203.0.113.1")
	req.RemoteAddr = "192.168.1.1:12345"

	if ip := getClientIP(req, []string{"192.168.1.1"}); ip != "203.0.113.1" {
		t.Errorf("getClientIP() = %q, want %q", ip, "203.0.113.1")
	}
}
