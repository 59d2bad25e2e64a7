package jobs

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Spec is a parsed schedule string. Exactly one of Cron or Every is set.
//
// Accepted forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "@hourly", "@every 55m"
//   - Go duration: "55m", "2h30m"
//   - HH:MM read as a duration: "00:50" (50 minutes), "02:30" (2h30m)
//
// A "cron:", "interval:" or "every:" prefix forces the interpretation.
type Spec struct {
	Cron  string
	Every time.Duration
}

// IsCron reports whether the spec needs a cron evaluator.
func (s Spec) IsCron() bool { return s.Cron != "" }

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule normalizes a schedule string into a Spec. Cron
// expressions are classified here and validated later, when the
// registry hands them to the cron parser.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, errors.New("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, errors.New("cron expression required after 'cron:'")
		}
		return Spec{Cron: expr}, nil
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	}

	// Whitespace or a leading '@' only make sense in cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Spec{Cron: s}, nil
	}

	sp, err := parseEvery(s)
	if err != nil {
		return Spec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m')", raw)
	}
	return sp, nil
}

func parseEvery(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, errors.New("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		if hh == 0 && mm == 0 {
			return Spec{}, errors.New("interval must be > 0")
		}
		return Spec{Every: time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '55m', '2h30m')", v)
	}
	if d <= 0 {
		return Spec{}, errors.New("interval must be > 0")
	}
	return Spec{Every: d}, nil
}
