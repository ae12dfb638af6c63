package scheduler

import (
	"time"

	"hooksched/internal/domain"
)

// Reasons a task gets disabled after a run.
const (
	ReasonOneShot = "one-shot completed"
	ReasonMaxRuns = "max runs reached"
)

// Transition describes what Apply changed beyond the run bookkeeping.
type Transition struct {
	Disabled bool
	Reason   string
}

// Apply records a successful dispatch at the given time. It must only be called
// after the trigger was confirmed; a failed dispatch leaves the task as it was.
func Apply(task domain.Task, at time.Time) (domain.Task, Transition) {
	if task.LastRunAt == nil || at.After(*task.LastRunAt) {
		ts := at
		task.LastRunAt = &ts
	}
	task.RunCount++

	var tr Transition
	if task.Schedule.Kind == domain.KindAt {
		task.Enabled = false
		tr = Transition{Disabled: true, Reason: ReasonOneShot}
	}
	if task.MaxRuns > 0 && task.RunCount >= task.MaxRuns {
		if task.Enabled {
			tr = Transition{Disabled: true, Reason: ReasonMaxRuns}
		}
		task.Enabled = false
	}
	return task, tr
}
