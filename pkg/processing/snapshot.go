package processing

import (
	"time"

	"github.com/systemstart/modinstall/pkg/steps"
)

// StepSnapshot is the published state of one step.
type StepSnapshot struct {
	Kind     steps.Kind
	Group    steps.Group
	Status   steps.Status
	Progress float64 // negative when unknown
	Duration time.Duration
}

// GroupSnapshot is one group's steps in registry order.
type GroupSnapshot struct {
	Group steps.Group
	Steps []StepSnapshot
}

// Status folds the group's step statuses: unsuccessful if any failed,
// ongoing if any is running or the group is partly done, successful when
// every step succeeded, queued otherwise.
func (g GroupSnapshot) Status() steps.Status {
	if len(g.Steps) == 0 {
		return steps.StatusQueued
	}
	done := 0
	for _, s := range g.Steps {
		switch s.Status {
		case steps.StatusUnsuccessful:
			return steps.StatusUnsuccessful
		case steps.StatusOngoing:
			return steps.StatusOngoing
		case steps.StatusSuccessful:
			done++
		}
	}
	switch done {
	case len(g.Steps):
		return steps.StatusSuccessful
	case 0:
		return steps.StatusQueued
	default:
		return steps.StatusOngoing
	}
}

// Duration sums the durations of the group's steps.
func (g GroupSnapshot) Duration() time.Duration {
	var total time.Duration
	for _, s := range g.Steps {
		total += s.Duration
	}
	return total
}

// Snapshot is a read-only view of a run for presentation. The runner flags
// are read under one lock and each step's state under its own, so a step may
// already show a status the flags have not caught up with yet.
type Snapshot struct {
	RunID           string
	Current         steps.Kind // empty before the first dispatch
	Completed       bool
	DownloadErrored bool
	Err             error
	Steps           []StepSnapshot
}

// Snapshot captures the current published state. It is not atomic across
// steps; redraw on the next Updates signal rather than relying on it.
func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	snap := Snapshot{
		RunID:           r.runID,
		Completed:       r.completed,
		DownloadErrored: r.downloadErrored,
		Err:             r.err,
	}
	if r.current != nil {
		snap.Current = r.current.Kind()
	}
	r.mu.RUnlock()

	list := r.registry.Steps()
	snap.Steps = make([]StepSnapshot, len(list))
	for i, s := range list {
		snap.Steps[i] = StepSnapshot{
			Kind:     s.Kind(),
			Group:    s.Group(),
			Status:   s.Status(),
			Progress: s.Progress(),
			Duration: s.Duration(),
		}
	}
	return snap
}

// Grouped buckets the snapshot's steps by group in display order.
func (s Snapshot) Grouped() []GroupSnapshot {
	out := make([]GroupSnapshot, 0, len(steps.Groups))
	for _, g := range steps.Groups {
		gs := GroupSnapshot{Group: g}
		for _, st := range s.Steps {
			if st.Group == g {
				gs.Steps = append(gs.Steps, st)
			}
		}
		out = append(out, gs)
	}
	return out
}

// Step returns the snapshot of the first step of kind.
func (s Snapshot) Step(kind steps.Kind) (StepSnapshot, bool) {
	for _, st := range s.Steps {
		if st.Kind == kind {
			return st, true
		}
	}
	return StepSnapshot{}, false
}
