package monitor

import "time"

// Clock abstracts wall time so backoff schedules are testable without real
// waits.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the production clock.
var SystemClock Clock = realClock{}
