package util

import "time"

// PeriodGate fires at most once per period. It is not safe for concurrent
// use; the ingestion loop owns its gate.
type PeriodGate struct {
	last   time.Time
	period time.Duration
	now    func() time.Time
}

// NewPeriodGate starts the first period now.
func NewPeriodGate(period time.Duration) *PeriodGate {
	return &PeriodGate{last: time.Now(), period: period, now: time.Now}
}

// Ready reports whether a full period elapsed since the last firing and, if
// so, starts a new period. It returns the elapsed time of the closed period.
func (g *PeriodGate) Ready() (time.Duration, bool) {
	now := g.now()
	elapsed := now.Sub(g.last)
	if elapsed < g.period {
		return elapsed, false
	}
	g.last = now
	return elapsed, true
}
