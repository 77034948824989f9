package cachefirst

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cache-first/cache-first/origin"
	partition "github.com/cache-first/cache-first/pkg/partition-store"
)

func newInterceptor(t *testing.T, store partition.Store, originURL string) *Interceptor {
	t.Helper()
	u, err := url.Parse(originURL)
	if err != nil {
		t.Fatal(err)
	}
	i := New(Config{Store: store, OriginURL: *u})
	i.Install()
	i.Activate()
	return i
}

func get(t *testing.T, i *Interceptor, path string) *http.Response {
	t.Helper()
	rr := httptest.NewRecorder()
	i.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
	return rr.Result()
}

func TestCacheFirstServesStoredWithoutNetwork(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"message":"hit %d"}`, hits)
	}))
	i := newInterceptor(t, partition.NewMemStore(), ts.URL)

	first := get(t, i, "/api/data")
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status is %d", first.StatusCode)
	}
	second := get(t, i, "/api/data")
	if hits != 1 {
		t.Fatalf("origin reached %d times", hits)
	}
	body, _ := io.ReadAll(second.Body)
	if string(body) != `{"message":"hit 1"}` {
		t.Fatalf("second body is %q", body)
	}

	// with the network gone, the stored copy still answers
	ts.Close()
	third := get(t, i, "/api/data")
	if third.StatusCode != http.StatusOK {
		t.Fatalf("third status is %d", third.StatusCode)
	}
	body, _ = io.ReadAll(third.Body)
	if string(body) != `{"message":"hit 1"}` {
		t.Fatalf("third body is %q", body)
	}
}

func TestOfflineFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()
	i := newInterceptor(t, partition.NewMemStore(), ts.URL)

	res := get(t, i, "/api/data")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content-type is %q", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "offline") {
		t.Fatalf("body is %q", body)
	}
	if cs := res.Header.Get("Cache-Status"); !strings.Contains(cs, "fallback") {
		t.Fatalf("cache-status is %q", cs)
	}
}

func TestActivationCleanup(t *testing.T) {
	store := partition.NewMemStore()
	stale, err := store.Open("api-data-v0")
	if err != nil {
		t.Fatal(err)
	}
	stale.Put("GET /api/data", []byte("old bytes"))
	store.Open(StaticPartition)

	newInterceptor(t, store, "http://localhost:0")

	names, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if name != DataPartition && name != StaticPartition {
			t.Fatalf("retired partition %q survived activation", name)
		}
	}
	found := map[string]bool{}
	for _, name := range names {
		found[name] = true
	}
	if !found[DataPartition] || !found[StaticPartition] {
		t.Fatalf("reserved partitions missing after activation: %v", names)
	}
}

func TestNonCacheableStatusIsNotStored(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts.Close()
	i := newInterceptor(t, partition.NewMemStore(), ts.URL)

	if res := get(t, i, "/api/data"); res.StatusCode != http.StatusNotFound {
		t.Fatalf("status is %d", res.StatusCode)
	}
	if res := get(t, i, "/api/data"); res.StatusCode != http.StatusNotFound {
		t.Fatalf("status is %d", res.StatusCode)
	}
	if hits != 2 {
		t.Fatalf("origin reached %d times", hits)
	}
}

func TestPassthroughDoesNotCache(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("static"))
	}))
	defer ts.Close()
	i := newInterceptor(t, partition.NewMemStore(), ts.URL)

	get(t, i, "/cached-logo.png")
	res := get(t, i, "/cached-logo.png")
	if hits != 2 {
		t.Fatalf("origin reached %d times", hits)
	}
	if cs := res.Header.Get("Cache-Status"); !strings.Contains(cs, "bypass") {
		t.Fatalf("cache-status is %q", cs)
	}
}

func TestPassthroughFailureIsBadGateway(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()
	i := newInterceptor(t, partition.NewMemStore(), ts.URL)

	res := get(t, i, "/cached-logo.png")
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status is %d", res.StatusCode)
	}
}

// Without Install the reserved partition is never opened and the
// interceptor degenerates to always-miss.
func TestDegradedModeAlwaysFetches(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer ts.Close()
	u, _ := url.Parse(ts.URL)
	i := New(Config{Store: partition.NewMemStore(), OriginURL: *u})

	get(t, i, "/api/data")
	res := get(t, i, "/api/data")
	if hits != 2 {
		t.Fatalf("origin reached %d times", hits)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status is %d", res.StatusCode)
	}
}

func TestCacheStatusHeaderOnMissAndHit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	}))
	defer ts.Close()
	i := newInterceptor(t, partition.NewMemStore(), ts.URL)

	miss := get(t, i, "/api/data")
	if cs := miss.Header.Get("Cache-Status"); !strings.Contains(cs, "fwd=uri-miss") || !strings.Contains(cs, "stored") {
		t.Fatalf("miss cache-status is %q", cs)
	}
	hit := get(t, i, "/api/data")
	if cs := hit.Header.Get("Cache-Status"); !strings.Contains(cs, "hit") {
		t.Fatalf("hit cache-status is %q", cs)
	}
}

// End-to-end against the real origin: the gateway stores the conditional
// resource on first fetch and keeps answering after the origin is gone.
func TestGatewayAgainstOrigin(t *testing.T) {
	server, err := origin.NewServer(origin.Config{Churn: origin.ChurnNever})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(server.Handler())
	i := newInterceptor(t, partition.NewMemStore(), ts.URL)

	first := get(t, i, "/api/data")
	tag := first.Header.Get("ETag")
	if first.StatusCode != http.StatusOK || tag == "" {
		t.Fatalf("first response: status %d, tag %q", first.StatusCode, tag)
	}
	firstBody, _ := io.ReadAll(first.Body)

	ts.Close()
	second := get(t, i, "/api/data")
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second status is %d", second.StatusCode)
	}
	if got := second.Header.Get("ETag"); got != tag {
		t.Fatalf("stored tag is %q, want %q", got, tag)
	}
	secondBody, _ := io.ReadAll(second.Body)
	if string(secondBody) != string(firstBody) {
		t.Fatalf("stored body diverged: %q vs %q", secondBody, firstBody)
	}
}
