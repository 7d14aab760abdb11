// Package rate caps the request rate of a run.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket hands out evenly spaced start slots at a fixed rate.
//
// Each call to Next reserves the next free slot: max(now, previous slot +
// 1/rate). Concurrent callers therefore queue behind each other instead of
// all starting at once, which is what a run-wide throttle shared by many
// virtual users needs.
//
// # Example
//
//	lb := NewLeakyBucket(100.0) // 100 requests per second
//
//	if err := lb.Wait(ctx); err != nil {
//	    return err
//	}
//	// send request
type LeakyBucket struct {
	mu       sync.Mutex
	interval time.Duration
	nextSlot time.Time

	totalWaits    atomic.Int64
	totalWaitTime atomic.Int64 // nanoseconds
}

// NewLeakyBucket creates a bucket draining rate slots per second.
// Non-positive rates default to 1.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return &LeakyBucket{interval: intervalOf(rate)}
}

func intervalOf(rate float64) time.Duration {
	if rate <= 0 {
		rate = 1.0
	}
	return time.Duration(float64(time.Second) / rate)
}

// Next reserves a slot and returns its start time. The time is in the
// past or now when the bucket is idle.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	if lb.nextSlot.Before(now) {
		lb.nextSlot = now
	}
	slot := lb.nextSlot
	lb.nextSlot = slot.Add(lb.interval)
	return slot
}

// Wait blocks until the reserved slot starts or ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	wait := time.Until(lb.Next())
	if wait <= 0 {
		return ctx.Err()
	}

	lb.totalWaits.Add(1)
	lb.totalWaitTime.Add(int64(wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate changes the rate. Slots already handed out are kept.
func (lb *LeakyBucket) SetRate(rate float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.interval = intervalOf(rate)
}

// Rate returns the current rate in slots per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return float64(time.Second) / float64(lb.interval)
}

// Stats reports how often callers had to wait.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Rate:          lb.Rate(),
		TotalWaits:    lb.totalWaits.Load(),
		TotalWaitTime: time.Duration(lb.totalWaitTime.Load()),
	}
}

// Stats contains statistics about the bucket.
type Stats struct {
	Rate          float64       `json:"rate"`
	TotalWaits    int64         `json:"totalWaits"`
	TotalWaitTime time.Duration `json:"totalWaitTime"`
}
