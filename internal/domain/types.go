package domain

import (
	"encoding/json"
	"time"
)

// Schedule kinds as they appear in task files.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Schedule is a tagged variant; Kind selects which of the other fields applies.
type Schedule struct {
	Kind  string
	Expr  string        // cron
	Every time.Duration // every
	At    string        // at; parsed at evaluation time
}

type Task struct {
	ID      string
	Name    string
	Enabled bool
	Prompt  string

	// Routing fields are opaque JSON values, forwarded to the trigger payload
	// as they appear in the task file. Nil when the key is absent.
	AgentID        json.RawMessage
	Channel        json.RawMessage
	To             json.RawMessage
	TimeoutSeconds json.RawMessage

	Schedule  Schedule
	LastRunAt *time.Time
	RunCount  int
	MaxRuns   int // 0 = unbounded
}

// HasRun reports whether the task was ever triggered successfully.
func (t Task) HasRun() bool { return t.LastRunAt != nil }

// DisplayName falls back to "task" for unnamed tasks.
func (t Task) DisplayName() string {
	if t.Name == "" {
		return "task"
	}
	return t.Name
}

// Truthy reports whether a raw JSON value counts as set. Absent, null, false,
// zero, "" and empty arrays or objects do not.
func Truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
