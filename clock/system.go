// A thin wrapper over the system clock which can be implemented for use in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystemClock() Clock {
	return &systemClock{}
}

func (sc *systemClock) Now() time.Time {
	return time.Now()
}
