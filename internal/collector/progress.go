package collector

import "sync"

type (
	// Progress is a point-in-time view of a collection run.
	Progress struct {
		Total         int
		Completed     int
		Succeeded     int
		Failed        int
		CurrentTarget string
	}

	// Tracker accumulates collection progress. Safe for concurrent use.
	Tracker struct {
		mu       sync.Mutex
		progress Progress
	}
)

// PercentComplete returns completion as a 0-100 percentage.
func (p Progress) PercentComplete() float64 {
	if p.Total == 0 {
		return 0
	}

	return 100 * float64(p.Completed) / float64(p.Total)
}

// NewTracker creates a tracker for a run over the given number of targets.
func NewTracker(total int) *Tracker {
	return &Tracker{progress: Progress{Total: total}}
}

// Start records that a target's collection began.
func (t *Tracker) Start(targetName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.CurrentTarget = targetName
}

// Finish records one target's outcome.
func (t *Tracker) Finish(succeeded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.Completed++

	if succeeded {
		t.progress.Succeeded++
	} else {
		t.progress.Failed++
	}
}

// Snapshot returns the current progress.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.progress
}
