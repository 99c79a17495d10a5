package telemetry

import (
	"math/rand"
	"time"
)

// backoff yields exponentially growing reconnect delays with jitter in
// [d/2, d], where d doubles from min up to max.
type backoff struct {
	min, max time.Duration
	attempt  int
	jitter   func() float64
}

func newBackoff(min, max time.Duration) *backoff {
	return &backoff{min: min, max: max, jitter: rand.Float64}
}

func (b *backoff) Next() time.Duration {
	d := b.min
	for i := 0; i < b.attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	b.attempt++

	half := d / 2
	return half + time.Duration(b.jitter()*float64(d-half))
}

func (b *backoff) Attempt() int {
	return b.attempt
}

func (b *backoff) Reset() {
	b.attempt = 0
}
