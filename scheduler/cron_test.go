package scheduler

import (
	"testing"
	"time"
)

func TestFireCronEveryMinute(t *testing.T) {
	from := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	next, err := fireCron("* * * * *", from)
	if err != nil {
		t.Fatalf("fireCron: %v", err)
	}
	want := time.Date(2026, 1, 1, 10, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v want %v", next, want)
	}
}

func TestFireCronHourly(t *testing.T) {
	from := time.Date(2026, 1, 1, 10, 45, 0, 0, time.UTC)
	next, err := fireCron("0 * * * *", from)
	if err != nil {
		t.Fatalf("fireCron: %v", err)
	}
	want := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v want %v", next, want)
	}
}

func TestFireCronRangeAndStep(t *testing.T) {
	// weekdays at 9, 12, 15
	from := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC) // a Friday
	next, err := fireCron("0 9-15/3 * * 1-5", from)
	if err != nil {
		t.Fatalf("fireCron: %v", err)
	}
	want := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v want %v", next, want)
	}
}

func TestFireCronList(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := fireCron("15,45 * * * *", from)
	if err != nil {
		t.Fatalf("fireCron: %v", err)
	}
	want := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v want %v", next, want)
	}
}

func TestFireCronInvalidFieldCount(t *testing.T) {
	if _, err := fireCron("* * *", time.Now()); err == nil {
		t.Fatalf("expected error for malformed cron expression")
	}
}

func TestFireInterval(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := fire("", 3600, from)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	want := from.Add(time.Hour)
	if !next.Equal(want) {
		t.Fatalf("got %v want %v", next, want)
	}
}

func TestFireNeitherCronNorInterval(t *testing.T) {
	if _, err := fire("", 0, time.Now()); err == nil {
		t.Fatalf("expected error when neither cron_expr nor interval_seconds set")
	}
}
