// Package rate caps how often actors may start an iteration.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket hands out start slots at a fixed rate.
//
// Each Next call reserves the earliest free slot and advances the drip point
// by one interval, so concurrent callers queue behind each other instead of
// all waking at once. A slot in the past means "start now". Up to MaxBurst
// slots may be consumed back-to-back after an idle period.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	mu       sync.Mutex
	rate     float64
	maxBurst float64
	next     time.Time

	reserved atomic.Int64
	waited   atomic.Int64
}

// NewLeakyBucket creates a bucket releasing rate slots per second with no
// bursting. Non-positive rates are treated as 1/s.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, 1)
}

// NewLeakyBucketWithBurst creates a bucket that lets up to maxBurst slots run
// back-to-back after idling.
func NewLeakyBucketWithBurst(rate, maxBurst float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1
	}
	if maxBurst < 1 {
		maxBurst = 1
	}
	return &LeakyBucket{rate: rate, maxBurst: maxBurst}
}

func (lb *LeakyBucket) interval() time.Duration {
	return time.Duration(float64(time.Second) / lb.rate)
}

// Next reserves a slot and returns when it starts.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	interval := lb.interval()

	earliest := now.Add(-time.Duration((lb.maxBurst - 1) * float64(interval)))
	slot := lb.next
	if slot.Before(earliest) {
		slot = earliest
	}
	lb.next = slot.Add(interval)

	lb.reserved.Add(1)
	if slot.After(now) {
		lb.waited.Add(int64(slot.Sub(now)))
		return slot
	}
	return now
}

// Wait blocks until the next reserved slot or until ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	d := time.Until(lb.Next())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the rate. Reservations already handed out are kept; the
// following slot is re-based so a rate drop never releases a burst.
func (lb *LeakyBucket) SetRate(rate float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if rate <= 0 {
		rate = 1
	}
	lb.rate = rate
	if now := time.Now(); lb.next.Before(now) {
		lb.next = now
	}
}

// Rate returns the current rate in slots per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats reports bucket usage.
func (lb *LeakyBucket) Stats() Stats {
	lb.mu.Lock()
	rate, burst := lb.rate, lb.maxBurst
	lb.mu.Unlock()

	return Stats{
		Rate:          rate,
		MaxBurst:      burst,
		Reserved:      lb.reserved.Load(),
		TotalWaitTime: time.Duration(lb.waited.Load()),
	}
}

// Reset forgets all reservations.
func (lb *LeakyBucket) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.next = time.Time{}
	lb.reserved.Store(0)
	lb.waited.Store(0)
}

// Stats contains usage counters of a LeakyBucket.
type Stats struct {
	Rate          float64       `json:"rate"`
	MaxBurst      float64       `json:"maxBurst"`
	Reserved      int64         `json:"reserved"`
	TotalWaitTime time.Duration `json:"totalWaitTime"`
}
