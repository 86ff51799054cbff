package types

import "time"

// Clock abstracts wall-clock reads so time-dependent components can be driven
// deterministically in tests. Production code wires RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock returns a Clock pinned to t. Useful for one-shot computations in
// tests; for advancing time, tests keep their own mutable fake.
type FixedClock time.Time

func (f FixedClock) Now() time.Time { return time.Time(f) }
