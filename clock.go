package register

import "time"

// Clock is the system's sole source of millisecond timestamps.
// Registers and the AutoUpdater never call time.Now directly so that
// tests can drive the clock by hand.
type Clock interface {
	NowMillis() int64
}

// processStart anchors systemClock to time.Now's monotonic reading
// instead of wall-clock time, so NowMillis cannot go backward across a
// DST transition, leap second, or NTP step.
var processStart = time.Now()

type systemClock struct{}

func (systemClock) NowMillis() int64 {
	return time.Since(processStart).Milliseconds()
}

// DefaultClock is the process-wide monotonic clock used unless a
// component is constructed with an explicit Clock override.
var DefaultClock Clock = systemClock{}
