package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	var d time.Duration
	var got []time.Duration
	for i := 0; i < 12; i++ {
		backoff(&d, BackoffMinInterval, BackoffMaxInterval)
		got = append(got, d)
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062 * time.Millisecond,
		7593 * time.Millisecond,
		11389 * time.Millisecond,
		17083 * time.Millisecond,
		25624 * time.Millisecond,
		38436 * time.Millisecond,
		57654 * time.Millisecond,
		60 * time.Second,
	}, got)
}
