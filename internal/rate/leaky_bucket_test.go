package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewLeakyBucket(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		expected float64
	}{
		{"positive rate", 100.0, 100.0},
		{"zero rate defaults to 1", 0.0, 1.0},
		{"negative rate defaults to 1", -10.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb := NewLeakyBucket(tt.rate)
			if got := lb.Rate(); got < tt.expected*0.999 || got > tt.expected*1.001 {
				t.Errorf("Rate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLeakyBucket_FirstSlotImmediate(t *testing.T) {
	lb := NewLeakyBucket(100.0)

	now := time.Now()
	if diff := lb.Next().Sub(now); diff > 10*time.Millisecond {
		t.Errorf("first Next() should be immediate, got delay of %v", diff)
	}
}

func TestLeakyBucket_SlotsAreSpaced(t *testing.T) {
	lb := NewLeakyBucket(100.0) // 10ms apart

	first := lb.Next()
	second := lb.Next()
	third := lb.Next()

	if d := second.Sub(first); d < 10*time.Millisecond {
		t.Errorf("second slot after %v, want >= 10ms", d)
	}
	if d := third.Sub(first); d < 20*time.Millisecond {
		t.Errorf("third slot after %v, want >= 20ms", d)
	}
}

func TestLeakyBucket_ConcurrentCallersQueue(t *testing.T) {
	lb := NewLeakyBucket(200.0) // 5ms apart

	const callers = 20
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lb.Wait(context.Background()); err != nil {
				t.Errorf("Wait() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// 20 slots at 5ms need at least 19 intervals
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("20 concurrent waits finished after %v, want >= 95ms", elapsed)
	}
	if stats := lb.Stats(); stats.TotalWaits == 0 {
		t.Error("expected some callers to wait")
	}
}

func TestLeakyBucket_WaitCancelled(t *testing.T) {
	lb := NewLeakyBucket(1.0)
	_ = lb.Next()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := lb.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestLeakyBucket_SetRate(t *testing.T) {
	lb := NewLeakyBucket(10.0)
	lb.SetRate(50.0)
	if got := lb.Rate(); got < 49.9 || got > 50.1 {
		t.Errorf("Rate() = %v, want 50", got)
	}
}
