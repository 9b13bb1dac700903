package ratelimit

import (
	"testing"
	"time"
)

// fakeNow returns a Limiter clock that the test advances by hand.
func fakeNow(l *Limiter) *time.Time {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return &now
}

func TestLimiter_AllowsUpToBurst(t *testing.T) {
	l := New(60, 5)
	fakeNow(l)
	for i := 0; i < 5; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow("a") {
		t.Fatal("6th request should be denied")
	}
}

func TestLimiter_Refills(t *testing.T) {
	l := New(60, 2)
	now := fakeNow(l)
	l.Allow("a")
	l.Allow("a")
	if l.Allow("a") {
		t.Fatal("3rd should be denied")
	}
	*now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("after one second a token should be available")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(60, 1)
	fakeNow(l)
	if !l.Allow("a") {
		t.Fatal("first request for a should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("second request for a should be denied")
	}
	if !l.Allow("b") {
		t.Fatal("first request for b should be allowed")
	}
}

func TestLimiter_Prune(t *testing.T) {
	l := New(60, 1)
	now := fakeNow(l)
	l.Allow("old")
	*now = now.Add(10 * time.Minute)
	l.Allow("new")

	if got := l.Prune(5 * time.Minute); got != 1 {
		t.Errorf("Prune = %d, want 1", got)
	}
	if got := l.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}
