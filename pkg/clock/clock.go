package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Manual is a clock that only moves when told to. It is handed to the
// scheduler in tests in place of Now.
type Manual struct {
	t time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{t: start}
}

func (m *Manual) Now() time.Time { return m.t }

func (m *Manual) Advance(d time.Duration) {
	m.t = m.t.Add(d)
}
