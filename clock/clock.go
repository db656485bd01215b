// Package clock supplies the monotonic time source and request trace id
// generator used throughout the core, so tests can substitute a fake clock
// instead of depending on wall time.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock is the time source the cache manager and dispatcher depend on.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// NewTraceID returns a fresh per-request trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}
