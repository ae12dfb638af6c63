package scheduler

import (
	"context"
	"fmt"
	"path/filepath"

	"hooksched/internal/cronexpr"
	"hooksched/internal/domain"
	"hooksched/internal/taskstore"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one problem reported by Check.
type Finding struct {
	Severity   Severity
	Collection string
	TaskID     string
	Message    string
}

func (f Finding) String() string {
	if f.TaskID == "" {
		return fmt.Sprintf("%s: %s: %s", f.Severity, f.Collection, f.Message)
	}
	return fmt.Sprintf("%s: %s[%s]: %s", f.Severity, f.Collection, f.TaskID, f.Message)
}

type reader interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, path string) (*taskstore.Collection, error)
}

// Check parses every collection the way a sweep would and reports what a sweep
// would skip. Cron expressions the matcher accepts but the strict parser rejects
// are warnings: they load fine but may never fire.
func Check(ctx context.Context, store reader) ([]Finding, error) {
	paths, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Finding
	for _, p := range paths {
		name := filepath.Base(p)
		c, err := store.Load(ctx, p)
		if err != nil {
			out = append(out, Finding{Severity: SeverityError, Collection: name, Message: err.Error()})
			continue
		}
		for _, t := range c.Tasks {
			out = append(out, checkTask(name, t)...)
		}
	}
	return out, nil
}

func checkTask(collection string, t domain.Task) []Finding {
	f := func(sev Severity, format string, args ...any) Finding {
		return Finding{Severity: sev, Collection: collection, TaskID: t.ID, Message: fmt.Sprintf(format, args...)}
	}
	var out []Finding
	switch t.Schedule.Kind {
	case domain.KindCron:
		if _, err := cronexpr.Parse(t.Schedule.Expr); err != nil {
			out = append(out, f(SeverityError, "cron %q: %v", t.Schedule.Expr, err))
		} else if err := ValidateCronExpression(t.Schedule.Expr); err != nil {
			out = append(out, f(SeverityWarning, "cron %q out of bounds: %v", t.Schedule.Expr, err))
		}
	case domain.KindEvery:
		if t.Schedule.Every <= 0 {
			out = append(out, f(SeverityWarning, "non-positive interval, never due"))
		}
	case domain.KindAt:
		if t.Schedule.At == "" {
			out = append(out, f(SeverityWarning, "empty at, never due"))
		}
	default:
		out = append(out, f(SeverityWarning, "unknown schedule kind %q", t.Schedule.Kind))
	}
	if t.Prompt == "" {
		out = append(out, f(SeverityWarning, "empty prompt"))
	}
	return out
}

// HasErrors reports whether any finding is an error.
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
