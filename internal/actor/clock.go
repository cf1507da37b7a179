package actor

import "time"

// Clock provides a testable time source.
//
// Reducers must not call a Clock. Callers stamp inputs with Clock.Now so the
// reducer stays deterministic.
type Clock interface {
	Now() time.Time
}

// RealClock is a production Clock implementation backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
