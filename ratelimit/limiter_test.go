package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := New(0)
	for i := 0; i < 100; i++ {
		if !l.Allow("alice") {
			t.Fatal("Allow should always return true when unlimited")
		}
	}

	var nilLimiter *Limiter
	if !nilLimiter.Allow("alice") {
		t.Fatal("nil limiter should allow")
	}
}

func TestAllow_RateLimited(t *testing.T) {
	l := New(2)

	// First two should be allowed (bucket starts full).
	if !l.Allow("alice") {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow("alice") {
		t.Fatal("second call should be allowed")
	}

	// Third should be denied (bucket exhausted).
	if l.Allow("alice") {
		t.Fatal("third call should be denied")
	}

	// Other identities have their own bucket.
	if !l.Allow("bob") {
		t.Fatal("bob should be allowed")
	}
}

func TestAllow_Refills(t *testing.T) {
	l := New(10)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	for i := 0; i < 10; i++ {
		l.Allow("alice")
	}
	if l.Allow("alice") {
		t.Fatal("should be denied after exhausting bucket")
	}

	clock = clock.Add(200 * time.Millisecond)

	if !l.Allow("alice") {
		t.Fatal("should be allowed after refill")
	}
}

func TestAllow_DeniedAttemptsDoNotRefill(t *testing.T) {
	l := New(1)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	if !l.Allow("alice") {
		t.Fatal("first call should be allowed")
	}
	clock = clock.Add(500 * time.Millisecond)
	if l.Allow("alice") {
		t.Fatal("should be denied half way through the refill")
	}
	clock = clock.Add(500 * time.Millisecond)
	if !l.Allow("alice") {
		t.Fatal("should be allowed once a full second has passed")
	}
}

func TestPrune(t *testing.T) {
	l := New(1)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	l.Allow("alice")
	clock = clock.Add(time.Minute)
	l.Allow("bob")

	if n := l.Prune(30 * time.Second); n != 1 {
		t.Fatalf("expected 1 pruned bucket, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected bob's bucket to remain, got %d buckets", l.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := New(100)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("alice")
		}()
	}

	wg.Wait()
	close(allowed)

	trueCount := 0
	for v := range allowed {
		if v {
			trueCount++
		}
	}

	// The bucket starts with 100 tokens, so at most ~100 should be allowed.
	if trueCount > 101 {
		t.Fatalf("expected at most 101 allowed, got %d", trueCount)
	}
	if trueCount < 90 {
		t.Fatalf("expected at least 90 allowed (timing), got %d", trueCount)
	}
}
