package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/lanternhq/lantern/internal/auth"
	"github.com/lanternhq/lantern/internal/circuitbreaker"
)

func newTestLimiter(t *testing.T, rpm int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	wrapper := circuitbreaker.NewRedisWrapper(client, "rate-limit", zaptest.NewLogger(t))
	return NewRateLimiter(wrapper, rpm, zaptest.NewLogger(t)), mr
}

func authedRequest(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", nil)
	ctx := context.WithValue(req.Context(), auth.UserContextKey, &auth.UserContext{
		UserID:    userID,
		TokenType: auth.TokenTypeJWT,
	})
	return req.WithContext(ctx)
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, 5)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest("u1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, 2)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest("u1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("u1"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimiterIsolatesCallers(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("u1 first request: status %d", rec.Code)
	}

	// A different caller has their own window.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest("u2"))
	if rec.Code != http.StatusOK {
		t.Errorf("u2 should not share u1's window: status %d", rec.Code)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl, mr := newTestLimiter(t, 1)
	mr.Close() // Redis down

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, authedRequest("u1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d should fail open, got %d", i+1, rec.Code)
		}
	}
}
