// Package clock abstracts time.Now so recording and reporting code can be
// tested against a controlled timeline.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by the wall clock, normalized to UTC.
func System() Clock {
	return systemClock{}
}
