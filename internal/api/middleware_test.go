package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/univ-capstone/modelvideo/internal/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	handler := AuthMiddleware(nil, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ClaimsFrom(r.Context()) != nil {
			t.Error("claims set with authentication disabled")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/uploads", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware(t *testing.T) {
	mgr := auth.NewManager("test-key")
	valid, err := mgr.Issue("U1")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	foreign, _ := auth.NewManager("other-key").Issue("U1")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
		{"wrong key", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := AuthMiddleware(mgr, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject = ClaimsFrom(r.Context()).UserID()
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/uploads", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusOK && subject != "U1" {
				t.Errorf("subject = %q, want %q", subject, "U1")
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(NewClientLimiter(0.001, 2), discardLogger())(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/model", nil)
		req.RemoteAddr = "10.0.0.7:51234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two requests = %v, want both 200", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want %d", codes[2], http.StatusTooManyRequests)
	}

	req := httptest.NewRequest(http.MethodPost, "/model", nil)
	req.RemoteAddr = "10.0.0.8:40000"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("other client status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestNewClientLimiter_Disabled(t *testing.T) {
	if l := NewClientLimiter(0, 5); l != nil {
		t.Fatal("NewClientLimiter(0) should return nil")
	}

	handler := RateLimitMiddleware(nil, discardLogger())(okHandler())
	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rr.Code)
		}
	}
}

func TestClientLimiter_EvictsOldClients(t *testing.T) {
	l := NewClientLimiter(1, 1)
	for i := 0; i < maxTrackedClients+10; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	if l.Len() > maxTrackedClients {
		t.Errorf("Len() = %d, want <= %d", l.Len(), maxTrackedClients)
	}
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	handler := CORSMiddleware([]string{"http://localhost:8081"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8081" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:8081")
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("ACAC = %q, want true", got)
	}
}

func TestCORSMiddleware_DeniedOrigin(t *testing.T) {
	handler := CORSMiddleware([]string{"http://localhost:8081"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (request still served, just no ACAO)", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty for denied origin", got)
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	handler := CORSMiddleware([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("ACAO = %q, want *", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := CORSMiddleware([]string{"http://localhost:8081"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called for preflight")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/model", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 8 {
		t.Errorf("request id = %q, want 8 chars", seen)
	}
	if rr.Header().Get("X-Request-ID") != seen {
		t.Errorf("X-Request-ID = %q, want %q", rr.Header().Get("X-Request-ID"), seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
