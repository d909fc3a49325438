package fetch

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute, nil)

	for i := 0; i < 2; i++ {
		b.Failure("shop.example")
		if !b.Allow("shop.example") {
			t.Fatalf("breaker opened before threshold at failure %d", i+1)
		}
	}
	b.Failure("shop.example")
	if b.Allow("shop.example") {
		t.Fatalf("breaker should be open after 3 failures")
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b := NewBreaker(2, time.Minute, nil)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Failure("shop.example")
	b.Failure("shop.example")
	if b.Allow("shop.example") {
		t.Fatalf("breaker should be open")
	}

	now = now.Add(2 * time.Minute)
	if !b.Allow("shop.example") {
		t.Fatalf("breaker should let one attempt through after cooldown")
	}

	// The half-open attempt failing must re-open immediately.
	b.Failure("shop.example")
	if b.Allow("shop.example") {
		t.Fatalf("breaker should re-open after a failed half-open attempt")
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := NewBreaker(2, time.Minute, nil)

	b.Failure("shop.example")
	b.Success("shop.example")
	b.Failure("shop.example")
	if !b.Allow("shop.example") {
		t.Fatalf("success should have reset the failure count")
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	b := NewBreaker(1, time.Minute, nil)

	b.Failure("down.example")
	if b.Allow("down.example") {
		t.Fatalf("down.example should be open")
	}
	if !b.Allow("up.example") {
		t.Fatalf("up.example should be unaffected")
	}
}
