// Package taskstore reads and writes per-agent task collection files.
//
// A collection file is a JSON document {"version": 1, "tasks": [...]}. Records
// keep their original fields and order; saving only rewrites lastRunAt,
// runCount and enabled when they changed.
package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hooksched/internal/domain"
)

const (
	DefaultPattern  = "tasks-*.json"
	documentVersion = 1
)

var ErrDecode = errors.New("malformed task document")

// Collection is one task file loaded into memory. Tasks may be replaced by
// value; the loaded records are kept for the write back.
type Collection struct {
	Path    string
	Version int
	Tasks   []domain.Task

	records []record
	loaded  []domain.Task
}

// Name is the collection's file name.
func (c *Collection) Name() string { return filepath.Base(c.Path) }

// Dir is a directory of collection files.
type Dir struct {
	root    string
	pattern string
	loc     *time.Location
}

// New returns a store over root. Zone-less timestamps in files are read in loc.
func New(root, pattern string, loc *time.Location) *Dir {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Dir{root: root, pattern: pattern, loc: loc}
}

func (d *Dir) Root() string { return d.root }

// List returns the collection files in lexical order.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	_ = ctx
	paths, err := filepath.Glob(filepath.Join(d.root, d.pattern))
	if err != nil {
		return nil, fmt.Errorf("list task files: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

type document struct {
	Version int               `json:"version"`
	Tasks   []json.RawMessage `json:"tasks"`
}

type wireSchedule struct {
	Kind         string  `json:"kind"`
	Expr         string  `json:"expr"`
	EverySeconds float64 `json:"everySeconds"`
	At           string  `json:"at"`
}

// wireTask holds the typed fields. enabled and the routing values are read
// from the raw record instead, since any JSON value is allowed there.
type wireTask struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Prompt    string       `json:"prompt"`
	Schedule  wireSchedule `json:"schedule"`
	LastRunAt *string      `json:"lastRunAt"`
	RunCount  int          `json:"runCount"`
	MaxRuns   int          `json:"maxRuns"`
}

// Load reads one collection file.
func (d *Dir) Load(ctx context.Context, path string) (*Collection, error) {
	_ = ctx
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return decode(path, b, d.loc)
}

func decode(path string, b []byte, loc *time.Location) (*Collection, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	c := &Collection{
		Path:    path,
		Version: doc.Version,
		Tasks:   make([]domain.Task, 0, len(doc.Tasks)),
		records: make([]record, 0, len(doc.Tasks)),
	}
	for i, raw := range doc.Tasks {
		var rec record
		if err := rec.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("%w: %s: task %d: %v", ErrDecode, path, i, err)
		}
		var w wireTask
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %s: task %d: %v", ErrDecode, path, i, err)
		}
		t, err := w.toDomain(&rec, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: task %d: %v", ErrDecode, path, i, err)
		}
		c.Tasks = append(c.Tasks, t)
		c.records = append(c.records, rec)
	}
	c.loaded = append([]domain.Task(nil), c.Tasks...)
	return c, nil
}

func (w wireTask) toDomain(rec *record, loc *time.Location) (domain.Task, error) {
	// Only a missing key defaults to enabled; null and other falsy values disable.
	enabled, ok := rec.get("enabled")
	t := domain.Task{
		ID:             w.ID,
		Name:           w.Name,
		Enabled:        !ok || domain.Truthy(enabled),
		Prompt:         w.Prompt,
		AgentID:        rec.value("agentId"),
		Channel:        rec.value("channel"),
		To:             rec.value("to"),
		TimeoutSeconds: rec.value("timeoutSeconds"),
		Schedule: domain.Schedule{
			Kind:  w.Schedule.Kind,
			Expr:  w.Schedule.Expr,
			Every: time.Duration(w.Schedule.EverySeconds * float64(time.Second)),
			At:    w.Schedule.At,
		},
		RunCount: w.RunCount,
		MaxRuns:  w.MaxRuns,
	}
	if w.LastRunAt != nil && *w.LastRunAt != "" {
		ts, err := domain.ParseTimestamp(*w.LastRunAt, loc)
		if err != nil {
			return domain.Task{}, fmt.Errorf("lastRunAt: %w", err)
		}
		t.LastRunAt = &ts
	}
	return t, nil
}

// Save writes the collection back atomically: a sibling temp file is written
// and renamed over the target.
func (d *Dir) Save(ctx context.Context, c *Collection) error {
	_ = ctx
	b, err := encode(c)
	if err != nil {
		return err
	}
	return writeAtomic(c.Path, b)
}

func encode(c *Collection) ([]byte, error) {
	if len(c.Tasks) != len(c.records) {
		return nil, fmt.Errorf("%s: task count changed from %d to %d", c.Path, len(c.records), len(c.Tasks))
	}
	for i, t := range c.Tasks {
		if err := c.mergeRecord(i, t); err != nil {
			return nil, fmt.Errorf("%s: task %s: %w", c.Path, t.ID, err)
		}
	}
	c.loaded = append(c.loaded[:0], c.Tasks...)
	version := c.Version
	if version == 0 {
		version = documentVersion
	}
	out := struct {
		Version int      `json:"version"`
		Tasks   []record `json:"tasks"`
	}{Version: version, Tasks: c.records}
	if out.Tasks == nil {
		out.Tasks = []record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Path, err)
	}
	return buf.Bytes(), nil
}

// mergeRecord copies the scheduler-owned fields of t into record i when they
// differ from what was loaded.
func (c *Collection) mergeRecord(i int, t domain.Task) error {
	rec := &c.records[i]
	var was domain.Task
	if i < len(c.loaded) {
		was = c.loaded[i]
	}
	if t.LastRunAt != nil && (was.LastRunAt == nil || !t.LastRunAt.Equal(*was.LastRunAt)) {
		if err := rec.set("lastRunAt", domain.FormatTimestamp(*t.LastRunAt)); err != nil {
			return err
		}
	}
	if t.RunCount != was.RunCount {
		if err := rec.set("runCount", t.RunCount); err != nil {
			return err
		}
	}
	if t.Enabled != was.Enabled {
		if err := rec.set("enabled", t.Enabled); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
