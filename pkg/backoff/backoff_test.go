package backoff

import (
	"testing"
	"time"
)

func TestExponentialBackoff_StaysWithinCap(t *testing.T) {
	b := New()
	b.Max = 4 * time.Second

	var last time.Duration
	for i := 0; i < 20; i++ {
		d := b.Next()
		if d < 0 {
			t.Fatalf("delay %d went negative: %v", i, d)
		}
		if d > b.Max {
			t.Fatalf("delay %d exceeded ceiling: %v > %v", i, d, b.Max)
		}
		last = d
	}
	_ = last
}

func TestExponentialBackoff_ResetRestartsGrowth(t *testing.T) {
	b := New()
	b.Base = 100 * time.Millisecond
	b.Max = time.Hour

	for i := 0; i < 10; i++ {
		b.Next()
	}
	if b.attempt == 0 {
		t.Fatalf("expected attempts to have accumulated")
	}
	b.Reset()
	if b.attempt != 0 {
		t.Fatalf("Reset() did not clear attempt count")
	}
}
