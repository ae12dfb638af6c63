package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"hooksched/internal/cronexpr"
	"hooksched/internal/domain"
)

// ValidateCronExpression checks expr with the standard cron parser, which is
// stricter than the matcher: out-of-range literals are rejected here. It only
// feeds warnings; matching and previews never consult it.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// previewHorizon bounds the search for the next matching minute. It covers
// a leap day under the widest spacing of leap years.
const previewHorizon = 8 * 366 * 24 * time.Hour

// NextCronRun is the next minute at or after from that expr matches, following
// the same rules as the scheduler's matcher. It is nil for expressions the
// matcher rejects and for those that never match within the horizon.
func NextCronRun(expr string, from time.Time) *time.Time {
	e, err := cronexpr.Parse(expr)
	if err != nil {
		return nil
	}
	next, ok := e.Next(from, previewHorizon)
	if !ok {
		return nil
	}
	return &next
}

// NextRun previews when task will next be due, or nil when it never will
// (disabled, spent one-shot, unknown kind, or unparsable schedule).
func NextRun(task domain.Task, now time.Time, loc *time.Location) *time.Time {
	if !task.Enabled {
		return nil
	}
	now = now.In(loc)
	switch task.Schedule.Kind {
	case domain.KindCron:
		return NextCronRun(task.Schedule.Expr, now.Truncate(time.Minute))
	case domain.KindEvery:
		if task.Schedule.Every <= 0 {
			return nil
		}
		if task.LastRunAt == nil {
			return &now
		}
		next := task.LastRunAt.Add(task.Schedule.Every).In(loc)
		return &next
	case domain.KindAt:
		if task.Schedule.At == "" || task.HasRun() {
			return nil
		}
		at, err := domain.ParseTimestamp(task.Schedule.At, loc)
		if err != nil {
			return nil
		}
		at = at.In(loc)
		return &at
	}
	return nil
}
