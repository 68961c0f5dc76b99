package clock

import "time"

// Clock abstracts time.Now so sweep-eligibility windows can be tested
// without sleeping.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func New() Clock {
	return SystemClock{}
}
