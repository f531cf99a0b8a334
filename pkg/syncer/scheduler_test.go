package syncer

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerDrainsInFireOrder(t *testing.T) {
	sched := newScheduler()
	now := time.Now()

	var fired []string
	sched.schedule(now.Add(30*time.Millisecond), priorityRefill, func(ctx context.Context, firedAt time.Time) time.Time {
		fired = append(fired, "b")
		return time.Time{}
	})
	sched.schedule(now.Add(10*time.Millisecond), priorityRefill, func(ctx context.Context, firedAt time.Time) time.Time {
		fired = append(fired, "a")
		return time.Time{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sched.run(ctx)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
}

func TestRescheduleFromTargetAbsorbsDrift(t *testing.T) {
	target := time.Unix(1000, 0)
	interval := 100 * time.Millisecond

	// Task ran 50ms late but before its next target: next nominal target is
	// exactly target+interval.
	onTime := target.Add(interval)
	got := rescheduleFromTarget(target, interval, onTime.Add(-50*time.Millisecond))
	if !got.Equal(onTime) {
		t.Fatalf("on-time reschedule = %v, want %v", got, onTime)
	}

	// Task ran very late (well past its nominal next fire time): the next
	// fire is pulled forward to "now + 1ms" instead of scheduling in the past.
	veryLate := onTime.Add(5 * time.Second)
	got = rescheduleFromTarget(target, interval, veryLate)
	want := veryLate.Add(time.Millisecond)
	if !got.Equal(want) {
		t.Fatalf("late reschedule = %v, want %v", got, want)
	}
}
