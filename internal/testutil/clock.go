package testutil

import (
	"testing"
	"time"

	"github.com/coder/quartz"
)

// NewClock returns a mock clock set to at. Timers and tickers only fire
// when the test advances it.
func NewClock(t testing.TB, at time.Time) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(at)
	return clock
}
