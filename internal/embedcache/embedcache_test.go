package embedcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir(), HotCacheSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	v := Vector{
		Values:       []float32{0.1, 0.2, 0.3},
		Dimensions:   3,
		ComputedAt:   time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC),
		ModelVersion: "v1",
	}
	if err := s.Put("trading", v); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Get("trading")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got.Values) != 3 || got.Values[1] != float32(0.2) {
		t.Errorf("got %v", got.Values)
	}
}

func TestGet_Miss(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestPut_SurvivesHotCacheEviction(t *testing.T) {
	s := newTestStore(t) // HotCacheSize: 4
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		if err := s.Put(key, Vector{Values: []float32{float32(i)}, Dimensions: 1, ComputedAt: time.Now(), ModelVersion: "v1"}); err != nil {
			t.Fatal(err)
		}
	}
	// first key was evicted from hot cache but must still be durable in SQLite.
	got, ok, err := s.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected durable hit despite LRU eviction")
	}
	if got.Values[0] != 0 {
		t.Errorf("got %v", got.Values)
	}
}

func TestNoopProvider_ReturnsErrNoProvider(t *testing.T) {
	_, err := (NoopProvider{}).Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("got %v, want ErrNoProvider", err)
	}
}

func TestHTTPProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"vectors":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, MaxElapsed: 2 * time.Second}
	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
}

func TestHTTPProvider_ClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, MaxElapsed: 2 * time.Second}
	_, err := p.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (4xx should not retry)", attempts)
	}
}

func TestGetEmbeddings_CacheThenProviderFallback(t *testing.T) {
	s := newTestStore(t)
	_ = s.Put("health", Vector{Values: []float32{1, 0}, Dimensions: 2, ComputedAt: time.Now(), ModelVersion: "v1"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"vectors":[[0.5,0.5]]}`))
	}))
	defer srv.Close()
	provider := &HTTPProvider{Endpoint: srv.URL}

	got, err := GetEmbeddings(context.Background(), s, provider, []string{"health", "trading"}, 10, 2, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tags, want 2", len(got))
	}
	if got["health"][0] != 1 {
		t.Errorf("health should come from cache unchanged, got %v", got["health"])
	}

	// provider result should now be cached too.
	_, ok, err := s.Get("trading")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected provider-computed embedding to be cached")
	}
}

func TestGetEmbeddings_ProviderFailurePropagates(t *testing.T) {
	s := newTestStore(t)
	_, err := GetEmbeddings(context.Background(), s, NoopProvider{}, []string{"trading"}, 10, 2, "v1")
	if err == nil {
		t.Fatal("expected error from missing provider")
	}
}
