package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/lanternhq/lantern/internal/circuitbreaker"
)

func newEmbedServer(t *testing.T, calls *int32, vectors [][]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)

		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Texts) != 1 {
			t.Errorf("Expected 1 text, got %d", len(req.Texts))
		}

		dims := 0
		if len(vectors) > 0 {
			dims = len(vectors[0])
		}
		resp := embedResponse{Embeddings: vectors, Dimensions: dims, ModelUsed: req.Model}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedQuery(t *testing.T) {
	var calls int32
	server := newEmbedServer(t, &calls, [][]float64{{3.0, 4.0}})
	defer server.Close()

	svc := NewService(Config{BaseURL: server.URL}, nil, zaptest.NewLogger(t))

	vec, err := svc.EmbedQuery(context.Background(), "data governance")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("Expected 2 dimensions, got %d", len(vec))
	}

	// [3,4] normalizes to [0.6, 0.8]
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("Expected normalized [0.6 0.8], got %v", vec)
	}

	// Second identical query is served from the LRU
	if _, err := svc.EmbedQuery(context.Background(), "data governance"); err != nil {
		t.Fatalf("Cached EmbedQuery failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 upstream call, got %d", got)
	}
}

func TestEmbedQueryEmptyVector(t *testing.T) {
	var calls int32
	server := newEmbedServer(t, &calls, [][]float64{})
	defer server.Close()

	svc := NewService(Config{BaseURL: server.URL}, nil, zaptest.NewLogger(t))

	_, err := svc.EmbedQuery(context.Background(), "anything")
	if !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("Expected ErrEmptyEmbedding, got %v", err)
	}
}

func TestEmbedQueryZeroVector(t *testing.T) {
	var calls int32
	server := newEmbedServer(t, &calls, [][]float64{{0, 0, 0}})
	defer server.Close()

	svc := NewService(Config{BaseURL: server.URL}, nil, zaptest.NewLogger(t))

	_, err := svc.EmbedQuery(context.Background(), "anything")
	if !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("Expected ErrEmptyEmbedding for zero vector, got %v", err)
	}
}

func TestEmbedQueryServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewService(Config{BaseURL: server.URL}, nil, zaptest.NewLogger(t))

	if _, err := svc.EmbedQuery(context.Background(), "anything"); err == nil {
		t.Error("Expected error for 503 response")
	}
}

func TestEmbedQueryEmptyText(t *testing.T) {
	svc := NewService(Config{BaseURL: "http://localhost:1"}, nil, zaptest.NewLogger(t))

	if _, err := svc.EmbedQuery(context.Background(), ""); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	wrapper := circuitbreaker.NewRedisWrapper(client, "embedding-cache", zaptest.NewLogger(t))
	cache := NewRedisCache(wrapper)

	ctx := context.Background()
	key := MakeKey("text-embedding-3-small", "roundtrip")
	want := []float32{0.25, -0.5, 1.0}

	cache.Set(ctx, key, want, time.Minute)

	got, ok := cache.Get(ctx, key)
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d floats, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Value %d: expected %f, got %f", i, want[i], got[i])
		}
	}

	// Values whose length is not a multiple of 4 bytes are rejected
	mr.Set("emb:corrupt", "abc")
	if _, ok := cache.Get(ctx, "emb:corrupt"); ok {
		t.Error("Expected miss for corrupt value")
	}
}

func TestRedisLookasideFill(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	wrapper := circuitbreaker.NewRedisWrapper(client, "embedding-cache", zaptest.NewLogger(t))
	cache := NewRedisCache(wrapper)

	var calls int32
	server := newEmbedServer(t, &calls, [][]float64{{1.0, 0.0}})
	defer server.Close()

	logger := zaptest.NewLogger(t)
	first := NewService(Config{BaseURL: server.URL}, cache, logger)

	if _, err := first.EmbedQuery(context.Background(), "shared query"); err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}

	// A fresh service instance has a cold LRU but shares Redis
	second := NewService(Config{BaseURL: server.URL}, cache, logger)
	if _, err := second.EmbedQuery(context.Background(), "shared query"); err != nil {
		t.Fatalf("EmbedQuery via Redis failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 upstream call, got %d", got)
	}
}

func TestLocalLRUEviction(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	lru.Set(ctx, "c", []float32{3}, time.Minute)

	if _, ok := lru.Get(ctx, "a"); ok {
		t.Error("Expected oldest entry to be evicted")
	}
	if _, ok := lru.Get(ctx, "c"); !ok {
		t.Error("Expected newest entry to be present")
	}
}

func TestLocalLRUExpiry(t *testing.T) {
	lru := NewLocalLRU(10)
	ctx := context.Background()

	lru.Set(ctx, "short", []float32{1}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok := lru.Get(ctx, "short"); ok {
		t.Error("Expected expired entry to miss")
	}
}
