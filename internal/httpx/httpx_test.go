package httpx

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeconds(t *testing.T) {
	d, ok := Seconds(3600)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, d)

	d, ok = Seconds(0)
	assert.True(t, ok)
	assert.Zero(t, d)

	for _, secs := range []int64{-1, 18446744134, math.MaxInt64/int64(time.Second) + 1, math.MaxInt64} {
		_, ok := Seconds(secs)
		assert.False(t, ok, "secs=%d", secs)
	}

	d, ok = Seconds(math.MaxInt64 / int64(time.Second))
	assert.True(t, ok)
	assert.Positive(t, d)
}
