package board

import (
	"math/rand"
	"time"
)

// retryDelay is the wait before retry number n (1-based). The first retry
// waits RetryInitial exactly; later ones double up to RetryMax and are spread
// by ±Jitter of the delay so lanes failing together do not retry in lockstep.
func (c ReconcilerConfig) retryDelay(n int) time.Duration {
	d := c.RetryInitial
	if n <= 1 {
		return d
	}
	for i := 1; i < n && d < c.RetryMax; i++ {
		d *= 2
	}
	if d > c.RetryMax {
		d = c.RetryMax
	}
	if c.Jitter <= 0 {
		return d
	}
	return d + time.Duration((rand.Float64()*2-1)*c.Jitter*float64(d))
}
