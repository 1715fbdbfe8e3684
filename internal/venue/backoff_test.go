package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond, MaxTries: 5}

	for n := 0; n < 10; n++ {
		d := b.Delay(n)
		assert.True(t, d >= 0)
		assert.True(t, d <= b.Max)
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff()
	assert.False(t, b.Exhausted(0))
	assert.False(t, b.Exhausted(4))
	assert.True(t, b.Exhausted(5))
	assert.True(t, b.Exhausted(6))
}
