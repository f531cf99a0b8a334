package syncer

import (
	"container/heap"
	"context"
	"time"
)

// priority ordering for the cooperative scheduler: refill tasks run at
// priorityRefill; the optional statistics-refresh task runs at
// priorityRefresh, which is lower (runs less often) and must never starve
// refill (§4.3).
const (
	priorityRefill  = 1
	priorityRefresh = 2
)

// schedFunc is invoked when a task fires. It returns the task's next
// nominal fire time, rescheduling relative to that nominal target (not to
// "now") so that drift from slow ticks does not accumulate (§4.3, §9).
type schedFunc func(ctx context.Context, now time.Time) (nextFireAt time.Time)

type task struct {
	fireAt   time.Time
	priority int
	seq      int64
	run      schedFunc
}

// taskHeap orders by fire time, breaking ties by priority (lower value
// first) and then by insertion order for determinism.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if !h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].fireAt.Before(h[j].fireAt)
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// scheduler is a single-threaded cooperative timer loop: a priority queue of
// (fire_at, priority, task) entries drained by one goroutine. There is no
// parallelism and no locking inside it — tasks run strictly serially, and
// each blocking repository/upstream call simply makes the next task late,
// which the reschedule-from-nominal-target logic absorbs (§5).
type scheduler struct {
	heap taskHeap
	seq  int64
}

func newScheduler() *scheduler {
	s := &scheduler{}
	heap.Init(&s.heap)
	return s
}

func (s *scheduler) schedule(fireAt time.Time, priority int, run schedFunc) {
	s.seq++
	heap.Push(&s.heap, &task{fireAt: fireAt, priority: priority, seq: s.seq, run: run})
}

// run drains the queue until ctx is cancelled. Each task's return value is
// rescheduled unless it is the zero time, which means "do not reschedule".
func (s *scheduler) run(ctx context.Context) {
	for {
		if len(s.heap) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		next := s.heap[0]
		wait := time.Until(next.fireAt)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}

		heap.Pop(&s.heap)
		nextFireAt := next.run(ctx, time.Now())
		if !nextFireAt.IsZero() {
			s.schedule(nextFireAt, next.priority, next.run)
		}
	}
}

// rescheduleFromTarget implements the drift-absorbing rule from §4.3: the
// next task fires at max(target + interval - now, 1ms) from now, where
// target is the nominal fire time this task was scheduled for (not the time
// it actually ran).
func rescheduleFromTarget(target time.Time, interval time.Duration, now time.Time) time.Time {
	nextTarget := target.Add(interval)
	if nextTarget.Sub(now) > time.Millisecond {
		return nextTarget
	}
	return now.Add(time.Millisecond)
}
