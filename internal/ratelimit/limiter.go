package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Policy holds the tuning knobs for adaptive send pacing.
type Policy struct {
	BaseDelay time.Duration
	MinDelay  time.Duration
	MaxDelay  time.Duration

	// Jitter is the +/- fraction applied to every computed delay.
	Jitter float64

	// FloodMultiplier is applied to the delay after a FLOOD_WAIT.
	FloodMultiplier float64
	// FailureMultiplier is applied after an ordinary send failure.
	FailureMultiplier float64
	// RecoveryMultiplier shrinks the delay after RecoveryStreak
	// consecutive successes.
	RecoveryMultiplier float64
	RecoveryStreak     int

	// Every BatchMin..BatchMax sends the tracker asks for a longer rest of
	// RestMin..RestMax.
	BatchMin int
	BatchMax int
	RestMin  time.Duration
	RestMax  time.Duration

	// SkipFloodAbove is the FLOOD_WAIT threshold beyond which the current
	// target is skipped instead of waited out.
	SkipFloodAbove time.Duration
}

// DefaultPolicy returns the pacing used by sequential campaigns.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:          25 * time.Second,
		MinDelay:           15 * time.Second,
		MaxDelay:           120 * time.Second,
		Jitter:             0.3,
		FloodMultiplier:    2.0,
		FailureMultiplier:  1.25,
		RecoveryMultiplier: 0.95,
		RecoveryStreak:     5,
		BatchMin:           8,
		BatchMax:           12,
		RestMin:            60 * time.Second,
		RestMax:            180 * time.Second,
		SkipFloodAbove:     5 * time.Minute,
	}
}

// FixedPolicy returns a non-adaptive policy with a constant delay, used by
// parallel campaigns where every account paces independently.
func FixedPolicy(delay time.Duration) Policy {
	if delay <= 0 {
		delay = 60 * time.Second
	}
	return Policy{
		BaseDelay:      delay,
		MinDelay:       delay,
		MaxDelay:       delay,
		SkipFloodAbove: 5 * time.Minute,
	}
}

// Tracker paces one account's sends. The delay widens on failures and
// flood waits, and slowly narrows again on sustained success.
type Tracker struct {
	policy Policy

	mu          sync.Mutex
	delay       time.Duration
	streak      int
	floods      int
	sentInBatch int
	batchSize   int
	rng         *rand.Rand
}

// NewTracker creates a tracker starting at the policy's base delay.
func NewTracker(policy Policy) *Tracker {
	t := &Tracker{
		policy: policy,
		delay:  policy.BaseDelay,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	t.batchSize = t.nextBatchSize()
	return t
}

func (t *Tracker) nextBatchSize() int {
	if t.policy.BatchMax <= t.policy.BatchMin {
		return t.policy.BatchMin
	}
	return t.policy.BatchMin + t.rng.Intn(t.policy.BatchMax-t.policy.BatchMin+1)
}

// Delay returns the current base delay without jitter.
func (t *Tracker) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// NextDelay returns the jittered delay before the next send.
func (t *Tracker) NextDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.policy.Jitter <= 0 {
		return t.delay
	}
	// Uniform in [1-jitter, 1+jitter]
	factor := 1 - t.policy.Jitter + t.rng.Float64()*2*t.policy.Jitter
	return time.Duration(float64(t.delay) * factor)
}

// OnSuccess records a delivered message and narrows the delay after a
// sustained success streak.
func (t *Tracker) OnSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.floods = 0
	t.streak++
	t.sentInBatch++
	if t.policy.RecoveryStreak > 0 && t.streak >= t.policy.RecoveryStreak && t.policy.RecoveryMultiplier > 0 {
		t.delay = clamp(time.Duration(float64(t.delay)*t.policy.RecoveryMultiplier), t.policy.MinDelay, t.policy.MaxDelay)
	}
}

// OnFailure records an ordinary send failure and widens the delay.
func (t *Tracker) OnFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streak = 0
	if t.policy.FailureMultiplier > 0 {
		t.delay = clamp(time.Duration(float64(t.delay)*t.policy.FailureMultiplier), t.policy.MinDelay, t.policy.MaxDelay)
	}
}

// OnFloodWait records a FLOOD_WAIT and widens the delay sharply.
func (t *Tracker) OnFloodWait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streak = 0
	t.floods++
	if t.policy.FloodMultiplier > 0 {
		t.delay = clamp(time.Duration(float64(t.delay)*t.policy.FloodMultiplier), t.policy.MinDelay, t.policy.MaxDelay)
	}
}

// ConsecutiveFloods reports flood waits seen since the last success.
func (t *Tracker) ConsecutiveFloods() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.floods
}

// ShouldSkipFlood reports whether a FLOOD_WAIT is too long to wait out.
func (t *Tracker) ShouldSkipFlood(wait time.Duration) bool {
	return t.policy.SkipFloodAbove > 0 && wait > t.policy.SkipFloodAbove
}

// BatchRest reports whether the current batch is exhausted; if so it
// returns the rest duration and starts a new batch.
func (t *Tracker) BatchRest() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.batchSize <= 0 || t.sentInBatch < t.batchSize {
		return 0, false
	}
	t.sentInBatch = 0
	t.batchSize = t.nextBatchSize()

	spread := t.policy.RestMax - t.policy.RestMin
	if spread <= 0 {
		return t.policy.RestMin, true
	}
	return t.policy.RestMin + time.Duration(t.rng.Int63n(int64(spread))), true
}

func clamp(d, min, max time.Duration) time.Duration {
	if min > 0 && d < min {
		return min
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Sleep blocks for d or until the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
