package core

import (
	"fmt"
	"sync/atomic"
)

// ModelLimiter caps the model calls of one run. A zero max means no cap.
type ModelLimiter struct {
	max  int64
	used atomic.Int64
}

// NewModelLimiter creates a limiter allowing max calls.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: int64(max)}
}

// Increment records a call and fails once the cap is passed.
func (ml *ModelLimiter) Increment() error {
	n := ml.used.Add(1)
	if ml.max > 0 && n > ml.max {
		return fmt.Errorf("call %d exceeds limit of %d", n, ml.max)
	}
	return nil
}

// Used returns the number of calls recorded so far.
func (ml *ModelLimiter) Used() int { return int(ml.used.Load()) }
