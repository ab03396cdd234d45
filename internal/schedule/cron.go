package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field identifies one of the five cron fields.
type Field int

const (
	Minute Field = iota
	Hour
	DayOfMonth
	Month
	DayOfWeek
)

var fieldNames = [...]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

var fieldBounds = [...][2]int{
	{0, 59},
	{0, 23},
	{1, 31},
	{1, 12},
	{0, 6},
}

func (f Field) String() string {
	if f < Minute || f > DayOfWeek {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// CronError describes why a cron expression was rejected.
type CronError struct {
	Expr   string
	Field  Field
	Value  string
	Reason string
}

func (e *CronError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("cron %q: %s", e.Expr, e.Reason)
	}
	return fmt.Sprintf("cron %q: %s %q: %s", e.Expr, e.Field, e.Value, e.Reason)
}

type matcher struct {
	wildcard bool
	step     int
	values   map[int]bool
}

func (m matcher) match(v, lo int) bool {
	switch {
	case m.wildcard:
		return true
	case m.step > 0:
		return (v-lo)%m.step == 0
	default:
		return m.values[v]
	}
}

// Cron is a parsed five-field expression: minute hour day-of-month month
// day-of-week. Each field is "*", "*/N", or a comma list of integers.
// A time matches only when every field matches.
type Cron struct {
	expr   string
	fields [5]matcher
}

// ParseCron parses expr. Malformed input yields a *CronError.
func ParseCron(expr string) (*Cron, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, &CronError{Expr: expr, Reason: fmt.Sprintf("expected 5 fields, got %d", len(parts))}
	}
	c := &Cron{expr: expr}
	for i, raw := range parts {
		m, reason := parseField(raw, fieldBounds[i][0], fieldBounds[i][1])
		if reason != "" {
			return nil, &CronError{Expr: expr, Field: Field(i), Value: raw, Reason: reason}
		}
		c.fields[i] = m
	}
	return c, nil
}

func parseField(raw string, lo, hi int) (matcher, string) {
	if raw == "*" {
		return matcher{wildcard: true}, ""
	}
	if strings.HasPrefix(raw, "*/") {
		step, err := strconv.Atoi(strings.TrimPrefix(raw, "*/"))
		if err != nil || step <= 0 {
			return matcher{}, "step must be a positive integer"
		}
		return matcher{step: step}, ""
	}
	values := make(map[int]bool)
	for _, item := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(item)
		if err != nil {
			return matcher{}, "unsupported syntax"
		}
		if v < lo || v > hi {
			return matcher{}, fmt.Sprintf("value out of range %d-%d", lo, hi)
		}
		values[v] = true
	}
	return matcher{values: values}, ""
}

// String returns the original expression.
func (c *Cron) String() string { return c.expr }

// Matches reports whether t (in its own location) satisfies every field.
func (c *Cron) Matches(t time.Time) bool {
	return c.fields[Minute].match(t.Minute(), 0) &&
		c.fields[Hour].match(t.Hour(), 0) &&
		c.fields[DayOfMonth].match(t.Day(), 1) &&
		c.fields[Month].match(int(t.Month()), 1) &&
		c.fields[DayOfWeek].match(int(t.Weekday()), 0)
}

// maxScan bounds Next to a bit more than a year of minutes.
const maxScan = 366 * 24 * 60

// Next returns the first matching minute strictly after t.
func (c *Cron) Next(t time.Time) (time.Time, bool) {
	cur := t.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxScan; i++ {
		if c.Matches(cur) {
			return cur, true
		}
		cur = cur.Add(time.Minute)
	}
	return time.Time{}, false
}
