package pktransport

import (
	"testing"
	"time"
)

func TestNextDelayGrowsAndCaps(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 300 * time.Millisecond}

	if got := NextDelay(cfg, 1, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: got %v, want 100ms", got)
	}
	if got := NextDelay(cfg, 2, nil); got != 200*time.Millisecond {
		t.Fatalf("attempt 2: got %v, want 200ms", got)
	}
	if got := NextDelay(cfg, 4, nil); got != 300*time.Millisecond {
		t.Fatalf("attempt 4 should be capped at MaxDelay, got %v", got)
	}
}

func TestNextDelayJitterWithoutRNGUsesHalf(t *testing.T) {
	// A nil *rand.Rand is a valid, deterministic caller choice (e.g. a
	// test harness avoiding nondeterminism): it always halves the delay.
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 1.0, Jitter: true}
	if got := NextDelay(cfg, 2, nil); got != 50*time.Millisecond {
		t.Fatalf("expected 50ms with nil rng, got %v", got)
	}
}
