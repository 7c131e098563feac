package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// timeRound is the precision used when printing elapsed durations.
const timeRound = time.Millisecond

// parseTimeFlag accepts RFC3339, a unix timestamp in seconds, or "now" with
// an optional offset such as "now-1h".
func parseTimeFlag(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if s == "now" {
		return time.Now(), nil
	}
	if strings.HasPrefix(s, "now-") {
		d, err := parseDurationFlag(s[len("now-"):])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
		}
		return time.Now().Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: expected RFC3339, unix seconds or now[-offset]", s)
}

// parseDurationFlag accepts Go durations plus the prometheus day/week/year
// units ("1d", "2w").
func parseDurationFlag(s string) (time.Duration, error) {
	if d, err := model.ParseDuration(s); err == nil {
		return time.Duration(d), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// resolveRange turns --start/--end/--range flags into a concrete window.
// A bare --range means [now-range, now].
func resolveRange(startFlag, endFlag, rangeFlag string) (time.Time, time.Time, error) {
	if rangeFlag != "" {
		if startFlag != "" || endFlag != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--range cannot be combined with --start/--end")
		}
		d, err := parseDurationFlag(rangeFlag)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end := time.Now()
		return end.Add(-d), end, nil
	}
	start, err := parseTimeFlag(startFlag)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTimeFlag(endFlag)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-time.Hour)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}
