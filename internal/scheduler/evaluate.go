package scheduler

import (
	"fmt"
	"time"

	"hooksched/internal/cronexpr"
	"hooksched/internal/domain"
)

// IsDue reports whether task should fire at now. Zone-less "at" targets are read
// in loc. It never mutates the task and keeps no memory of earlier calls, so a
// cron task is due on every call within a matching minute.
func IsDue(task domain.Task, now time.Time, loc *time.Location) (bool, error) {
	if !task.Enabled {
		return false, nil
	}

	switch task.Schedule.Kind {
	case domain.KindCron:
		ok, err := cronexpr.Match(task.Schedule.Expr, now)
		if err != nil {
			return false, fmt.Errorf("cron %q: %w", task.Schedule.Expr, err)
		}
		return ok, nil

	case domain.KindEvery:
		every := task.Schedule.Every
		if every <= 0 {
			return false, nil
		}
		if task.LastRunAt == nil {
			return true, nil
		}
		return now.Sub(*task.LastRunAt) >= every, nil

	case domain.KindAt:
		if task.Schedule.At == "" || task.HasRun() {
			return false, nil
		}
		at, err := domain.ParseTimestamp(task.Schedule.At, loc)
		if err != nil {
			return false, fmt.Errorf("at: %w", err)
		}
		return !now.Before(at), nil
	}
	return false, nil
}
