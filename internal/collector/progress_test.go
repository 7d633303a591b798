package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker(t *testing.T) {
	tracker := NewTracker(4)

	tracker.Start("Evergreen Pension")
	tracker.Finish(true)
	tracker.Start("Halcyon Family Office")
	tracker.Finish(false)

	p := tracker.Snapshot()

	assert.Equal(t, 4, p.Total)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 1, p.Succeeded)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, "Halcyon Family Office", p.CurrentTarget)
	assert.InDelta(t, 50.0, p.PercentComplete(), 0.01)
}

func TestProgress_PercentComplete_ZeroTotal(t *testing.T) {
	assert.Zero(t, Progress{}.PercentComplete())
}
