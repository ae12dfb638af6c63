// Package cronexpr matches civil timestamps against 5-field cron expressions
// (minute hour day-of-month month day-of-week, 0 = Sunday).
//
// Literal values are not checked against a field's bounds: "25" in the hour
// field parses fine and simply never matches.
package cronexpr

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrParse      = errors.New("cron parse error")
	ErrFieldCount = errors.New("cron expression must have 5 fields")
)

// Field bounds, in expression order.
var bounds = [5]struct{ min, max int }{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week
}

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// Set is the set of integers a field selects.
type Set map[int]struct{}

func (s Set) Contains(v int) bool {
	_, ok := s[v]
	return ok
}

// Values returns the members in ascending order.
func (s Set) Values() []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// ParseField parses one cron field whose valid range is [min, max].
func ParseField(field string, min, max int) (Set, error) {
	set := Set{}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "*":
			addRange(set, min, max, 1)
		case strings.Contains(part, "/"):
			base, stepStr, _ := strings.Cut(part, "/")
			step, err := strconv.Atoi(stepStr)
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("%w: bad step in %q", ErrParse, part)
			}
			start := min
			if base != "*" {
				if start, err = strconv.Atoi(base); err != nil {
					return nil, fmt.Errorf("%w: bad base in %q", ErrParse, part)
				}
			}
			addRange(set, start, max, step)
		case strings.Contains(part, "-"):
			lo, hi, _ := strings.Cut(part, "-")
			a, err := strconv.Atoi(lo)
			if err != nil {
				return nil, fmt.Errorf("%w: bad range %q", ErrParse, part)
			}
			b, err := strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("%w: bad range %q", ErrParse, part)
			}
			addRange(set, a, b, 1)
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("%w: bad value %q", ErrParse, part)
			}
			set[v] = struct{}{}
		}
	}
	return set, nil
}

func addRange(set Set, from, to, step int) {
	for v := from; v <= to; v += step {
		set[v] = struct{}{}
	}
}

// Expr is a parsed 5-field expression.
type Expr struct {
	Minute, Hour, Dom, Month, Dow Set
}

// Parse parses a full expression. Fields are separated by any whitespace.
func Parse(expr string) (Expr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Expr{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(parts))
	}
	var sets [5]Set
	for i, p := range parts {
		s, err := ParseField(p, bounds[i].min, bounds[i].max)
		if err != nil {
			return Expr{}, fmt.Errorf("%s field: %w", fieldNames[i], err)
		}
		sets[i] = s
	}
	return Expr{Minute: sets[0], Hour: sets[1], Dom: sets[2], Month: sets[3], Dow: sets[4]}, nil
}

// Matches reports whether t's civil fields, read in t's own location, are all selected.
func (e Expr) Matches(t time.Time) bool {
	// time.Weekday already counts from Sunday = 0.
	return e.Minute.Contains(t.Minute()) &&
		e.Hour.Contains(t.Hour()) &&
		e.Dom.Contains(t.Day()) &&
		e.Month.Contains(int(t.Month())) &&
		e.Dow.Contains(int(t.Weekday()))
}

// Match parses expr and tests t against it. An expression without exactly five
// fields matches nothing and is not an error; malformed fields are.
func Match(expr string, t time.Time) (bool, error) {
	e, err := Parse(expr)
	if errors.Is(err, ErrFieldCount) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Matches(t), nil
}

func (e Expr) matchesDay(t time.Time) bool {
	return e.Dom.Contains(t.Day()) &&
		e.Month.Contains(int(t.Month())) &&
		e.Dow.Contains(int(t.Weekday()))
}

// Next returns the first whole minute at or after from that e matches, read in
// from's location. It gives up after limit and reports false.
func (e Expr) Next(from time.Time, limit time.Duration) (time.Time, bool) {
	t := from.Truncate(time.Minute)
	if t.Before(from) {
		t = t.Add(time.Minute)
	}
	end := from.Add(limit)
	loc := from.Location()
	for !t.After(end) {
		switch {
		case !e.matchesDay(t):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
		case !e.Hour.Contains(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
		case !e.Minute.Contains(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t, true
		}
	}
	return time.Time{}, false
}
