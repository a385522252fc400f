package engine

import (
	"context"
	"time"
)

// RolloverWatcher ticks the coordinator's queue day forward when nobody is
// assigning. Assign performs the same check itself, so a token issued before
// the first tick of a new day is never cleared by it.
type RolloverWatcher struct {
	coord *Coordinator
}

func NewRolloverWatcher(coord *Coordinator, now time.Time) *RolloverWatcher {
	coord.AdvanceDay(now)
	return &RolloverWatcher{coord: coord}
}

// Check rolls the ledger over if now falls on a later day than the queue day.
func (w *RolloverWatcher) Check(now time.Time) bool {
	_, rolled := w.coord.AdvanceDay(now)
	return rolled
}

// Run checks every interval until ctx is done.
func (w *RolloverWatcher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Check(now)
		}
	}
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
