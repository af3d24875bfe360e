package reminder

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timerEntry tracks information about a scheduled one-shot timer.
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
}

// Timer runs one-shot callbacks after a delay using Go's standard time
// package. IDs are UUIDs so cancellations survive process-internal reuse.
type Timer struct {
	timers map[string]*timerEntry
	mu     sync.Mutex
}

// NewTimer creates an empty Timer.
func NewTimer() *Timer {
	return &Timer{timers: make(map[string]*timerEntry)}
}

// ScheduleAfter schedules fn to run once after delay and returns the timer ID.
func (t *Timer) ScheduleAfter(delay time.Duration, fn func()) string {
	id := uuid.New().String()
	slog.Debug("Timer.ScheduleAfter: scheduling", "id", id, "delay", delay)

	now := time.Now()
	timer := time.AfterFunc(delay, func() {
		slog.Debug("Timer.ScheduleAfter: firing", "id", id)
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = &timerEntry{timer: timer, scheduledAt: now, expiresAt: now.Add(delay)}
	t.mu.Unlock()
	return id
}

// Cancel stops a pending timer. Unknown IDs are a no-op.
func (t *Timer) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.timers[id]; ok {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("Timer.Cancel: cancelled", "id", id)
	}
}

// Stop cancels all pending timers.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	slog.Debug("Timer.Stop: cancelling all timers", "count", len(t.timers))
	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	t.timers = make(map[string]*timerEntry)
}

// Active returns the number of pending timers.
func (t *Timer) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
