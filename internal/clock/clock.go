// Package clock centralises wall-clock access so that expiry and wait-time
// arithmetic can be made deterministic in tests.
package clock

import "time"

// NowFunc returns the current time. Tests may swap it for a fixed or
// stepping implementation.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Since reports the elapsed time relative to NowFunc.
func Since(t time.Time) time.Duration { return Now().Sub(t) }
