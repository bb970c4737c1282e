package worker

import (
	"math"
	"time"

	"github.com/goliatone/go-outbound/core"
)

// BackoffPolicy picks the delay before a failed job becomes ready again.
type BackoffPolicy interface {
	NextBackoffSeconds(job core.Job) int
}

// ExponentialBackoff doubles Initial for every attempt already made, capped at
// Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// NextBackoffSeconds rounds up so a sub-second delay never becomes an
// immediate retry.
func (p ExponentialBackoff) NextBackoffSeconds(job core.Job) int {
	return int(math.Ceil(p.NextDelay(job.Attempts).Seconds()))
}

func (p ExponentialBackoff) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = 10 * time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = time.Hour
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(initial) * factor)
	if delay <= 0 || delay > maximum {
		return maximum
	}
	return delay
}

// FixedBackoff always waits Seconds.
type FixedBackoff struct {
	Seconds int
}

func (p FixedBackoff) NextBackoffSeconds(core.Job) int {
	if p.Seconds < 0 {
		return 0
	}
	return p.Seconds
}
