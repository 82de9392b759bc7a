// Package budget enforces the per-turn ceiling on remote query tool calls.
package budget

import "sync"

// DefaultLimit is the number of tool calls allowed per turn when the
// config does not override it.
const DefaultLimit = 5

// Tracker counts tool-call completions within a conversational turn
// against a fixed ceiling. Calls are counted on completion, not dispatch,
// so a failed-and-retried call is only charged once.
//
// The zero value is unusable; construct with NewTracker.
type Tracker struct {
	mu    sync.Mutex
	limit int
	count int
}

// NewTracker creates a tracker with the given ceiling.
// A non-positive limit falls back to DefaultLimit.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Tracker{limit: limit}
}

// Increment records one completed tool call and returns the new count.
func (t *Tracker) Increment() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	return t.count
}

// Exhausted reports whether the ceiling has been reached.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count >= t.limit
}

// Remaining returns how many calls may still complete before the ceiling.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r := t.limit - t.count; r > 0 {
		return r
	}
	return 0
}

// Count returns the number of completed calls this turn.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Limit returns the configured ceiling.
func (t *Tracker) Limit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// Reset clears the counter. Called at the start of every user turn and
// when the user approves continuing past a reached limit.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
}
