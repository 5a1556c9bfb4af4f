package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestFloodWaitWidensDelay(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	start := tr.Delay()
	tr.OnFloodWait()
	if got := tr.Delay(); got != start*2 {
		t.Fatalf("expected %v after flood, got %v", start*2, got)
	}
	if tr.ConsecutiveFloods() != 1 {
		t.Fatalf("expected 1 consecutive flood, got %d", tr.ConsecutiveFloods())
	}

	// Repeated floods saturate at MaxDelay.
	for i := 0; i < 10; i++ {
		tr.OnFloodWait()
	}
	if got := tr.Delay(); got != DefaultPolicy().MaxDelay {
		t.Fatalf("expected clamp at %v, got %v", DefaultPolicy().MaxDelay, got)
	}

	tr.OnSuccess()
	if tr.ConsecutiveFloods() != 0 {
		t.Fatal("success should reset the flood counter")
	}
}

func TestFailureWidensDelay(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	start := tr.Delay()
	tr.OnFailure()
	want := time.Duration(float64(start) * 1.25)
	if got := tr.Delay(); got != want {
		t.Fatalf("expected %v after failure, got %v", want, got)
	}
}

func TestSuccessStreakNarrowsDelay(t *testing.T) {
	tr := NewTracker(DefaultPolicy())
	tr.OnFloodWait() // widen to 50s first

	widened := tr.Delay()
	for i := 0; i < 5; i++ {
		tr.OnSuccess()
	}
	if got := tr.Delay(); got >= widened {
		t.Fatalf("expected delay below %v after streak, got %v", widened, got)
	}

	// The delay never narrows below the floor.
	for i := 0; i < 500; i++ {
		tr.OnSuccess()
	}
	if got := tr.Delay(); got < DefaultPolicy().MinDelay {
		t.Fatalf("delay %v went under floor %v", got, DefaultPolicy().MinDelay)
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker(p)

	lo := time.Duration(float64(p.BaseDelay) * (1 - p.Jitter))
	hi := time.Duration(float64(p.BaseDelay) * (1 + p.Jitter))
	for i := 0; i < 1000; i++ {
		d := tr.NextDelay()
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestFixedPolicyNoAdaptation(t *testing.T) {
	tr := NewTracker(FixedPolicy(60 * time.Second))

	tr.OnFloodWait()
	tr.OnFailure()
	if got := tr.Delay(); got != 60*time.Second {
		t.Fatalf("fixed policy must not adapt, got %v", got)
	}
	if got := tr.NextDelay(); got != 60*time.Second {
		t.Fatalf("fixed policy must not jitter, got %v", got)
	}
	if _, rest := tr.BatchRest(); rest {
		t.Fatal("fixed policy has no batch rests")
	}
}

func TestBatchRest(t *testing.T) {
	p := DefaultPolicy()
	tr := NewTracker(p)

	rests := 0
	for i := 0; i < 100; i++ {
		tr.OnSuccess()
		if d, ok := tr.BatchRest(); ok {
			rests++
			if d < p.RestMin || d > p.RestMax {
				t.Fatalf("rest %v outside [%v, %v]", d, p.RestMin, p.RestMax)
			}
		}
	}
	// 100 sends with batches of 8..12 must rest at least 8 times.
	if rests < 8 {
		t.Fatalf("expected at least 8 rests over 100 sends, got %d", rests)
	}
}

func TestShouldSkipFlood(t *testing.T) {
	tr := NewTracker(DefaultPolicy())

	if tr.ShouldSkipFlood(2 * time.Minute) {
		t.Fatal("2m flood should be waited out")
	}
	if !tr.ShouldSkipFlood(6 * time.Minute) {
		t.Fatal("6m flood should be skipped")
	}
	if !NewTracker(FixedPolicy(time.Second)).ShouldSkipFlood(6 * time.Minute) {
		t.Fatal("fixed policy must skip long floods too")
	}
}

func TestSleepCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, 10*time.Second)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("sleep did not cancel promptly, took %v", elapsed)
	}
}
