package budget

import (
	"sync"
	"testing"
)

func TestTracker_NotExhaustedBelowLimit(t *testing.T) {
	tr := NewTracker(5)

	for i := 0; i < 4; i++ {
		tr.Increment()
		if tr.Exhausted() {
			t.Fatalf("Exhausted() = true after %d increments, want false", i+1)
		}
	}

	if got := tr.Remaining(); got != 1 {
		t.Errorf("Remaining() = %d, want 1", got)
	}
}

func TestTracker_ExhaustedAtLimit(t *testing.T) {
	tr := NewTracker(3)

	for i := 0; i < 3; i++ {
		tr.Increment()
	}

	if !tr.Exhausted() {
		t.Error("Exhausted() = false at limit, want true")
	}
	if got := tr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}

	// Remaining never goes negative past the limit.
	tr.Increment()
	if got := tr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d after overshoot, want 0", got)
	}
}

func TestTracker_ResetIsIdempotent(t *testing.T) {
	tr := NewTracker(5)

	for i := 0; i < 7; i++ {
		tr.Increment()
	}
	tr.Reset()

	if tr.Exhausted() {
		t.Error("Exhausted() = true after Reset, want false")
	}

	// limit-1 completions after a reset never exhaust, regardless of history.
	for i := 0; i < 4; i++ {
		tr.Increment()
	}
	if tr.Exhausted() {
		t.Error("Exhausted() = true after limit-1 post-reset increments, want false")
	}

	tr.Reset()
	tr.Reset()
	if got := tr.Count(); got != 0 {
		t.Errorf("Count() = %d after double reset, want 0", got)
	}
}

func TestTracker_DefaultLimit(t *testing.T) {
	tr := NewTracker(0)
	if got := tr.Limit(); got != DefaultLimit {
		t.Errorf("Limit() = %d, want %d", got, DefaultLimit)
	}

	tr = NewTracker(-3)
	if got := tr.Limit(); got != DefaultLimit {
		t.Errorf("Limit() = %d for negative limit, want %d", got, DefaultLimit)
	}
}

func TestTracker_ConcurrentIncrements(t *testing.T) {
	tr := NewTracker(1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				tr.Increment()
			}
		}()
	}
	wg.Wait()

	if got := tr.Count(); got != 1000 {
		t.Errorf("Count() = %d, want 1000", got)
	}
	if !tr.Exhausted() {
		t.Error("Exhausted() = false at limit, want true")
	}
}
