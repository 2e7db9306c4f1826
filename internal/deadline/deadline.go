// Package deadline parses free-form deadline text into timestamps.
//
// Parsing is pure and deterministic given a fixed "now"; the relative
// words ("today", "tomorrow") are resolved against the supplied clock.
package deadline

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Accepted exact formats (local wall clock, no timezone conversion).
const (
	FormatDate     = "2006-01-02"
	FormatDateTime = "2006-01-02 15:04"
)

// ErrInvalidFormat is returned for text that matches none of the
// accepted deadline forms. The message is user-facing.
var ErrInvalidFormat = errors.New("invalid deadline format, use YYYY-MM-DD or YYYY-MM-DD HH:MM")

var (
	dateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}$`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

// noDeadlineWords are the literal phrases that mean "no deadline".
var noDeadlineWords = map[string]bool{
	"":            true,
	"-":           true,
	"no deadline": true,
	"none":        true,
}

// Parse converts free-form text into an optional deadline timestamp.
// A nil result with a nil error means the user asked for no deadline.
// Unrecognized text returns ErrInvalidFormat.
func Parse(text string, now time.Time) (*time.Time, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	if noDeadlineWords[t] {
		return nil, nil
	}

	switch t {
	case "today":
		d := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 0, 0, now.Location())
		return &d, nil
	case "tomorrow":
		n := now.AddDate(0, 0, 1)
		d := time.Date(n.Year(), n.Month(), n.Day(), 18, 0, 0, 0, now.Location())
		return &d, nil
	}

	if dateTimeRe.MatchString(t) {
		d, err := time.ParseInLocation(FormatDateTime, spacesRe.ReplaceAllString(t, " "), now.Location())
		if err != nil {
			return nil, ErrInvalidFormat
		}
		return &d, nil
	}

	if dateRe.MatchString(t) {
		d, err := time.ParseInLocation(FormatDate, t, now.Location())
		if err != nil {
			return nil, ErrInvalidFormat
		}
		d = d.Add(18 * time.Hour)
		return &d, nil
	}

	return nil, ErrInvalidFormat
}
