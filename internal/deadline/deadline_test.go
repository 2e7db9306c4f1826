package deadline

import (
	"errors"
	"testing"
	"time"
)

// fixedNow keeps the relative-word branches deterministic.
var fixedNow = time.Date(2024, 3, 15, 10, 30, 45, 123, time.Local)

func TestParseNoDeadline(t *testing.T) {
	for _, input := range []string{"", "-", "no deadline", "none", "  No Deadline  "} {
		got, err := Parse(input, fixedNow)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", input, err)
		}
		if got != nil {
			t.Errorf("Parse(%q) = %v, want nil", input, got)
		}
	}
}

func TestParseToday(t *testing.T) {
	got, err := Parse("today", fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 15, 23, 59, 0, 0, time.Local)
	if got == nil || !got.Equal(want) {
		t.Errorf("Parse(today) = %v, want %v", got, want)
	}
}

func TestParseTomorrow(t *testing.T) {
	got, err := Parse("Tomorrow", fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 16, 18, 0, 0, 0, time.Local)
	if got == nil || !got.Equal(want) {
		t.Errorf("Parse(tomorrow) = %v, want %v", got, want)
	}
}

func TestParseTomorrowCrossesMonth(t *testing.T) {
	now := time.Date(2024, 1, 31, 22, 0, 0, 0, time.Local)
	got, err := Parse("tomorrow", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 2, 1, 18, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("Parse(tomorrow) = %v, want %v", got, want)
	}
}

func TestParseExactDate(t *testing.T) {
	cases := []struct {
		input string
		want  time.Time
	}{
		{"2024-12-31", time.Date(2024, 12, 31, 18, 0, 0, 0, time.Local)},
		{"2025-01-01", time.Date(2025, 1, 1, 18, 0, 0, 0, time.Local)},
		{"  2024-06-15  ", time.Date(2024, 6, 15, 18, 0, 0, 0, time.Local)},
	}
	for _, c := range cases {
		got, err := Parse(c.input, fixedNow)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", c.input, err)
			continue
		}
		if got == nil || !got.Equal(c.want) {
			t.Errorf("Parse(%q) = %v, want %v", c.input, got, c.want)
		}
	}
}

func TestParseExactDateTime(t *testing.T) {
	cases := []struct {
		input string
		want  time.Time
	}{
		{"2024-12-31 09:05", time.Date(2024, 12, 31, 9, 5, 0, 0, time.Local)},
		{"2024-03-15 23:59", time.Date(2024, 3, 15, 23, 59, 0, 0, time.Local)},
		{"2024-07-01  08:00", time.Date(2024, 7, 1, 8, 0, 0, 0, time.Local)},
	}
	for _, c := range cases {
		got, err := Parse(c.input, fixedNow)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", c.input, err)
			continue
		}
		if got == nil || !got.Equal(c.want) {
			t.Errorf("Parse(%q) = %v, want %v", c.input, got, c.want)
		}
	}
}

func TestParseInvalidFormat(t *testing.T) {
	inputs := []string{
		"not-a-date",
		"31-12-2024",
		"2024/12/31",
		"2024-12-31 9:05",
		"2024-13-45",
		"tomorrow evening",
	}
	for _, input := range inputs {
		_, err := Parse(input, fixedNow)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidFormat", input, err)
		}
	}
}
