package rate

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *testClock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(rdb, cfg), clock, mr
}

func TestCheckEnforcesLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Config{
		Rules:         []Rule{{Prefix: "/auth/login", Limit: 3, Window: time.Minute}},
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
	})
	ctx := context.Background()

	want := []bool{true, true, true, false}
	for i, expect := range want {
		result, err := limiter.Check(ctx, "/auth/login", "user:u1")
		if err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if result.Allowed != expect {
			t.Errorf("check %d: allowed = %v, want %v", i, result.Allowed, expect)
		}
	}
}

func TestCheckReportsRemaining(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Config{
		DefaultLimit:  3,
		DefaultWindow: time.Minute,
	})
	ctx := context.Background()

	for i, want := range []int{2, 1, 0} {
		result, err := limiter.Check(ctx, "/anything", "user:u1")
		if err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if result.Remaining != want {
			t.Errorf("check %d: remaining = %d, want %d", i, result.Remaining, want)
		}
	}
}

func TestCheckWindowSlides(t *testing.T) {
	limiter, clock, _ := newTestLimiter(t, Config{
		DefaultLimit:  2,
		DefaultWindow: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if result, err := limiter.Check(ctx, "/p", "user:u1"); err != nil || !result.Allowed {
			t.Fatalf("check %d: allowed = %v, err = %v", i, result.Allowed, err)
		}
	}

	result, err := limiter.Check(ctx, "/p", "user:u1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected rejection at limit")
	}
	wantReset := clock.Now().Add(time.Minute)
	if !result.ResetAt.Equal(wantReset) {
		t.Errorf("reset = %v, want %v (oldest entry + window)", result.ResetAt, wantReset)
	}

	// Half a window on: still full, the entries have not aged out.
	clock.Advance(30 * time.Second)
	result, err = limiter.Check(ctx, "/p", "user:u1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected rejection inside the window")
	}

	// Past the window the old entries are trimmed and requests flow again.
	clock.Advance(31 * time.Second)
	result, err = limiter.Check(ctx, "/p", "user:u1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.Allowed {
		t.Fatal("expected admission after the window elapsed")
	}
}

func TestCheckIsolatesClients(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, Config{
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
	})
	ctx := context.Background()

	if result, _ := limiter.Check(ctx, "/p", "user:u1"); !result.Allowed {
		t.Fatal("first client first request rejected")
	}
	if result, _ := limiter.Check(ctx, "/p", "user:u1"); result.Allowed {
		t.Fatal("first client second request admitted past the limit")
	}
	if result, _ := limiter.Check(ctx, "/p", "user:u2"); !result.Allowed {
		t.Fatal("second client blocked by first client's bucket")
	}
}

func TestBudgetLongestPrefixWins(t *testing.T) {
	limiter := New(nil, Config{
		Rules: []Rule{
			{Prefix: "/auth", Limit: 10, Window: time.Minute},
			{Prefix: "/auth/forgot-password", Limit: 3, Window: time.Hour},
		},
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
	})

	limit, window := limiter.Budget("/auth/forgot-password")
	if limit != 3 || window != time.Hour {
		t.Errorf("budget = (%d, %v), want (3, 1h)", limit, window)
	}

	limit, window = limiter.Budget("/auth/login")
	if limit != 10 || window != time.Minute {
		t.Errorf("budget = (%d, %v), want (10, 1m)", limit, window)
	}

	limit, window = limiter.Budget("/profile")
	if limit != 100 || window != time.Minute {
		t.Errorf("budget = (%d, %v), want defaults", limit, window)
	}
}

func TestClientKey(t *testing.T) {
	if got := ClientKey("u1", "203.0.113.9", "curl/8"); got != "user:u1" {
		t.Errorf("authenticated key = %q, want user:u1", got)
	}

	anon := ClientKey("", "203.0.113.9", "curl/8")
	if !strings.HasPrefix(anon, "ip:") || len(anon) != len("ip:")+16 {
		t.Errorf("anonymous key = %q, want ip: prefix with 16 hex chars", anon)
	}
	if strings.Contains(anon, "203.0.113.9") {
		t.Errorf("anonymous key %q leaks the raw address", anon)
	}

	if again := ClientKey("", "203.0.113.9", "curl/8"); again != anon {
		t.Errorf("anonymous key unstable: %q vs %q", again, anon)
	}
	if other := ClientKey("", "203.0.113.10", "curl/8"); other == anon {
		t.Error("distinct addresses mapped to the same key")
	}
}

func TestCheckFailsOpen(t *testing.T) {
	limiter, clock, mr := newTestLimiter(t, Config{
		DefaultLimit:     1,
		DefaultWindow:    time.Minute,
		FailOpenCooldown: 30 * time.Second,
	})
	ctx := context.Background()

	mr.Close()

	result, err := limiter.Check(ctx, "/p", "user:u1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.Allowed || !result.FailedOpen {
		t.Fatalf("result = %+v, want fail-open admission", result)
	}

	// Inside the cooldown the store is not probed again.
	result, err = limiter.Check(ctx, "/p", "user:u1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.Allowed || !result.FailedOpen {
		t.Fatalf("result = %+v, want fail-open admission during cooldown", result)
	}

	// After the cooldown the limiter probes again; the store is still down
	// so it re-enters fail-open rather than erroring.
	clock.Advance(31 * time.Second)
	result, err = limiter.Check(ctx, "/p", "user:u1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !result.Allowed || !result.FailedOpen {
		t.Fatalf("result = %+v, want renewed fail-open admission", result)
	}
}

func TestCheckConcurrentSameKey(t *testing.T) {
	const limit = 5
	limiter, _, _ := newTestLimiter(t, Config{
		DefaultLimit:  limit,
		DefaultWindow: time.Minute,
	})
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := limiter.Check(ctx, "/p", "user:u1")
			if err != nil {
				t.Errorf("check failed: %v", err)
				return
			}
			results[i] = result.Allowed
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, ok := range results {
		if ok {
			admitted++
		}
	}
	if admitted != limit {
		t.Errorf("admitted = %d, want exactly %d", admitted, limit)
	}
}
