// Package report holds the per-run accumulators both engines return.
// Sub-reports are merged upward instead of threading shared counters
// through the loops.
package report

import "time"

// Phase names used by the digest engine.
const (
	PhaseSubscribers = "subscribers"
	PhaseFilter      = "filter"
	PhaseRenderSend  = "render_send"
)

type PhaseTimings map[string]time.Duration

func (p PhaseTimings) Add(phase string, d time.Duration) {
	p[phase] += d
}

func (p PhaseTimings) Merge(other PhaseTimings) {
	for phase, d := range other {
		p[phase] += d
	}
}

// Run is the result of one engine invocation.
type Run struct {
	Processed    int
	Created      int
	Updated      int
	Removed      int
	Sent         int
	Failed       int
	GroupSkipped int
	SkippedOld   int
	Elapsed      time.Duration
	Phases       PhaseTimings
}

func NewRun() *Run {
	return &Run{Phases: make(PhaseTimings)}
}

// Merge folds a sub-report into r. Elapsed is not summed; the caller
// owns the wall clock for its own level.
func (r *Run) Merge(sub *Run) {
	if sub == nil {
		return
	}

	r.Processed += sub.Processed
	r.Created += sub.Created
	r.Updated += sub.Updated
	r.Removed += sub.Removed
	r.Sent += sub.Sent
	r.Failed += sub.Failed
	r.GroupSkipped += sub.GroupSkipped
	r.SkippedOld += sub.SkippedOld

	if r.Phases == nil {
		r.Phases = make(PhaseTimings)
	}
	r.Phases.Merge(sub.Phases)
}
