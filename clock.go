package torasuri

import "time"

// Clock tells the current time. Services take a Clock instead of calling
// time.Now so that expiry can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock that returns the wall time.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time {
	return time.Now()
}
