package dispatcher

import (
	"math/rand"
	"time"
)

// nextBackoff computes the next retry delay per spec §4.8: each retry's
// delay is the previous delay doubled, +/-10% jitter.
func nextBackoff(previous time.Duration) time.Duration {
	doubled := previous * 2
	jitter := float64(doubled) * (rand.Float64()*0.2 - 0.1) // +/-10%
	return doubled + time.Duration(jitter)
}
