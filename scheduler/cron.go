package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ferrors "github.com/filehaven/engine/cmn/errors"
)

// cronSpec is a parsed five-field cron expression: minute, hour,
// day-of-month, month, day-of-week. Each field is the set of values that
// satisfy it.
type cronSpec struct {
	minute  [60]bool
	hour    [24]bool
	dom     [32]bool // 1..31
	month   [13]bool // 1..12
	weekday [7]bool  // 0..6, Sunday=0
}

// parseCron parses a standard five-field cron expression: wildcards
// ("*"), lists ("1,3,5"), ranges ("1-5"), and steps ("*/5", "1-20/3").
func parseCron(expr string) (*cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, ferrors.ValidationError("cron expression must have 5 fields, got %d", len(fields))
	}
	spec := &cronSpec{}
	if err := parseField(fields[0], 0, 59, spec.minute[:]); err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	if err := parseField(fields[1], 0, 23, spec.hour[:]); err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	if err := parseField(fields[2], 1, 31, spec.dom[:]); err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	if err := parseField(fields[3], 1, 12, spec.month[:]); err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	if err := parseField(fields[4], 0, 6, spec.weekday[:]); err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}
	return spec, nil
}

func parseField(field string, min, max int, set []bool) error {
	for _, part := range strings.Split(field, ",") {
		if err := parseFieldPart(part, min, max, set); err != nil {
			return err
		}
	}
	return nil
}

func parseFieldPart(part string, min, max int, set []bool) error {
	step := 1
	rangePart := part
	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		rangePart = part[:idx]
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case rangePart == "*":
		// lo, hi already span the full field
	case strings.Contains(rangePart, "-"):
		bounds := strings.SplitN(rangePart, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || a > b {
			return fmt.Errorf("invalid range %q", rangePart)
		}
		lo, hi = a, b
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return fmt.Errorf("invalid value %q", rangePart)
		}
		lo, hi = v, v
	}
	if lo < min || hi > max {
		return fmt.Errorf("value out of range in %q (allowed %d-%d)", part, min, max)
	}
	for v := lo; v <= hi; v += step {
		set[v] = true
	}
	return nil
}

func (s *cronSpec) matches(t time.Time) bool {
	if !s.minute[t.Minute()] {
		return false
	}
	if !s.hour[t.Hour()] {
		return false
	}
	if !s.dom[t.Day()] {
		return false
	}
	if !s.month[int(t.Month())] {
		return false
	}
	if !s.weekday[int(t.Weekday())] {
		return false
	}
	return true
}

// maxCronSearch bounds the forward search for the next firing instant so
// a pathological expression (e.g. Feb 30th) can't spin forever.
const maxCronSearch = 4 * 366 * 24 * 60 // ~4 years of minutes

// fireCron returns the next instant strictly greater than from satisfying
// expr, searching minute-by-minute.
func fireCron(expr string, from time.Time) (time.Time, error) {
	spec, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	t := from.Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxCronSearch; i++ {
		if spec.matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, ferrors.ValidationError("no firing time found for cron expression %q within search horizon", expr)
}

// fire implements §4.4's fire(from): cron_expr XOR interval_seconds.
func fire(cronExpr string, intervalSeconds int64, from time.Time) (time.Time, error) {
	if cronExpr != "" {
		return fireCron(cronExpr, from)
	}
	if intervalSeconds > 0 {
		return from.Add(time.Duration(intervalSeconds) * time.Second), nil
	}
	return time.Time{}, ferrors.ValidationError("job has neither cron_expr nor interval_seconds")
}
