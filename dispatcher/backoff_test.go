package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffRoughlyDoublesWithJitter(t *testing.T) {
	prev := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		next := nextBackoff(prev)
		assert.InDelta(t, float64(200*time.Millisecond), float64(next), float64(20*time.Millisecond))
	}
}
