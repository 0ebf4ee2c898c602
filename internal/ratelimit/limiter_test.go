package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func keyGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`(user|ip):[a-z0-9]{8,32}`)
}

func classGenerator() *rapid.Generator[Class] {
	return rapid.SampledFrom([]Class{ClassAnonymous, ClassFree, ClassDevotee, ClassGuru, ClassContact, ClassAdminAuth})
}

// strictConfig has negligible refill so bursts are the whole budget.
func strictConfig(free, devotee, guru int) Config {
	return Config{
		Anonymous:       Rule{RPS: 0.001, Burst: 3},
		Free:            Rule{RPS: 0.001, Burst: free},
		Devotee:         Rule{RPS: 0.001, Burst: devotee},
		Guru:            Rule{RPS: 0.001, Burst: guru},
		Contact:         Rule{RPS: 0.001, Burst: 2},
		AdminAuth:       Rule{RPS: 0.001, Burst: 2},
		CleanupInterval: time.Hour,
	}
}

// =============================================================================
// Property: Requests beyond the burst are blocked
// =============================================================================

func testRateLimiter_ExceedingBurstBlocked(t *rapid.T) {
	cfg := strictConfig(5, 10, 20)
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	key := keyGenerator().Draw(t, "key")
	class := classGenerator().Draw(t, "class")
	burst := cfg.RuleFor(class).Burst

	for i := 0; i < burst; i++ {
		if !rl.Allow(key, class) {
			t.Fatalf("request %d of %d should be allowed for class %s", i+1, burst, class)
		}
	}
	if rl.Allow(key, class) {
		t.Fatalf("request beyond burst %d should be blocked for class %s", burst, class)
	}
}

func TestRateLimiter_ExceedingBurstBlocked(t *testing.T) {
	rapid.Check(t, testRateLimiter_ExceedingBurstBlocked)
}

func FuzzRateLimiter_ExceedingBurstBlocked(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_ExceedingBurstBlocked))
}

// =============================================================================
// Property: Different keys have independent buckets
// =============================================================================

func testRateLimiter_KeyIndependence(t *rapid.T) {
	cfg := strictConfig(5, 10, 20)
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	k1 := keyGenerator().Draw(t, "k1")
	k2 := keyGenerator().Filter(func(s string) bool { return s != k1 }).Draw(t, "k2")

	for i := 0; i < cfg.Free.Burst; i++ {
		rl.Allow(k1, ClassFree)
	}
	if rl.Allow(k1, ClassFree) {
		t.Fatal("k1 should be blocked after exhausting burst")
	}
	if !rl.Allow(k2, ClassFree) {
		t.Fatal("k2 should be unaffected by k1")
	}
}

func TestRateLimiter_KeyIndependence(t *testing.T) {
	rapid.Check(t, testRateLimiter_KeyIndependence)
}

func FuzzRateLimiter_KeyIndependence(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_KeyIndependence))
}

// =============================================================================
// Property: Higher tiers get strictly more requests than lower tiers
// =============================================================================

func testRateLimiter_TierOrdering(t *rapid.T) {
	free := rapid.IntRange(1, 10).Draw(t, "free")
	devotee := rapid.IntRange(free+1, free+20).Draw(t, "devotee")
	guru := rapid.IntRange(devotee+1, devotee+40).Draw(t, "guru")
	cfg := strictConfig(free, devotee, guru)

	count := func(class Class) int {
		rl := NewRateLimiter(cfg)
		defer rl.Stop()
		n := 0
		for i := 0; i < guru+5; i++ {
			if rl.Allow("user:x", class) {
				n++
			}
		}
		return n
	}

	f, d, g := count(ClassFree), count(ClassDevotee), count(ClassGuru)
	if !(f < d && d < g) {
		t.Fatalf("expected free < devotee < guru, got %d %d %d", f, d, g)
	}
}

func TestRateLimiter_TierOrdering(t *testing.T) {
	rapid.Check(t, testRateLimiter_TierOrdering)
}

func FuzzRateLimiter_TierOrdering(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_TierOrdering))
}

// =============================================================================
// Property: Class change replaces the bucket; same class reuses it
// =============================================================================

func testRateLimiter_GetLimiterConsistency(t *rapid.T) {
	rl := NewRateLimiter(DefaultConfig)
	defer rl.Stop()

	key := keyGenerator().Draw(t, "key")
	class := classGenerator().Draw(t, "class")

	a := rl.GetLimiter(key, class)
	b := rl.GetLimiter(key, class)
	if a != b {
		t.Fatal("same key and class must reuse the limiter")
	}

	other := classGenerator().Filter(func(c Class) bool { return c != class }).Draw(t, "other")
	if rl.GetLimiter(key, other) == a {
		t.Fatal("class change must create a new limiter")
	}
	if rl.Len() != 1 {
		t.Fatalf("class change must replace, not add: len=%d", rl.Len())
	}
}

func TestRateLimiter_GetLimiterConsistency(t *testing.T) {
	rapid.Check(t, testRateLimiter_GetLimiterConsistency)
}

func FuzzRateLimiter_GetLimiterConsistency(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_GetLimiterConsistency))
}

func TestRateLimiter_IdleLimiterCleanup(t *testing.T) {
	cfg := DefaultConfig
	cfg.CleanupInterval = 10 * time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.Allow("user:a", ClassFree)
	rl.Allow("ip:10.0.0.1", ClassAnonymous)
	if rl.Len() != 2 {
		t.Fatalf("expected 2 limiters, got %d", rl.Len())
	}

	time.Sleep(cfg.CleanupInterval + 5*time.Millisecond)
	rl.Cleanup()
	if rl.Len() != 0 {
		t.Fatalf("expected idle limiters removed, got %d", rl.Len())
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig
	cfg.Free = Rule{RPS: 1000, Burst: 2000}
	cfg.Guru = Rule{RPS: 1000, Burst: 2000}
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	var wg sync.WaitGroup
	var total atomic.Int64
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for r := 0; r < 50; r++ {
				class := ClassFree
				if (id+r)%2 == 0 {
					class = ClassGuru
				}
				rl.Allow("user:shared", class)
				total.Add(1)
			}
		}(g)
	}
	wg.Wait()
	if total.Load() != 16*50 {
		t.Fatalf("lost requests: %d", total.Load())
	}
}

func TestRuleFor_UnknownClassFallsBackToAnonymous(t *testing.T) {
	t.Parallel()
	if got := DefaultConfig.RuleFor(Class("bogus")); got != DefaultConfig.Anonymous {
		t.Fatalf("unknown class rule = %+v", got)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	cfg := strictConfig(1, 2, 3)
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	called := 0
	h := RateLimitMiddleware(rl, func(r *http.Request) (string, Class) {
		return "ip:" + r.RemoteAddr, ClassContact
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < cfg.Contact.Burst+1; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/api/contact", nil))
	}
	if called != cfg.Contact.Burst {
		t.Fatalf("handler called %d times, want %d", called, cfg.Contact.Burst)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("missing rate limit headers: %v", last.Header())
	}
}

func TestRateLimitMiddleware_EmptyKeySkips(t *testing.T) {
	rl := NewRateLimiter(strictConfig(1, 1, 1))
	defer rl.Stop()

	h := RateLimitMiddleware(rl, func(*http.Request) (string, Class) { return "", ClassFree })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("empty key should bypass limiter, got %d", rec.Code)
		}
	}
	if rl.Len() != 0 {
		t.Fatalf("no limiter should be created for empty key")
	}
}
