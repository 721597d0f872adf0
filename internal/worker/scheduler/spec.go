package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of a schedule string: a cron
// expression (robfig/cron) or a fixed interval.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 30 9 * * mon-fri", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm" | "kwargs"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string into either a cron expression or an interval duration.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"), strings.HasPrefix(low, "every:"):
		_, v, _ := strings.Cut(s, ":")
		d, src, err := parseInterval(v)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// cronFields are the kwargs a periodic task may use instead of a schedule
// string, in 6-field cron order.
var cronFields = []string{"second", "minute", "hour", "day", "month", "day_of_week"}

// periodicSpec resolves the schedule of a periodic task:
//   - args[0], or kwargs["schedule"], is passed to ParseSchedule
//   - otherwise cron-field kwargs build a 6-field spec; an unset second,
//     minute or hour below the coarsest set field is 0, any other unset
//     field is *
func periodicSpec(args []string, kwargs map[string]string) (ParsedSpec, error) {
	if len(args) > 1 {
		return ParsedSpec{}, fmt.Errorf("expected one schedule argument, got %d", len(args))
	}
	if len(args) == 1 {
		if len(kwargs) > 0 {
			return ParsedSpec{}, fmt.Errorf("schedule given both as argument and as keywords")
		}
		return ParseSchedule(args[0])
	}
	if s, ok := kwargs["schedule"]; ok {
		if len(kwargs) > 1 {
			return ParsedSpec{}, fmt.Errorf("schedule keyword cannot be combined with cron fields")
		}
		return ParseSchedule(s)
	}

	known := map[string]bool{}
	for _, f := range cronFields {
		known[f] = true
	}
	for k := range kwargs {
		if !known[k] {
			return ParsedSpec{}, fmt.Errorf("unknown schedule keyword %q", k)
		}
	}
	if len(kwargs) == 0 {
		return ParsedSpec{}, fmt.Errorf("no schedule given")
	}

	// cronFields runs fine to coarse, so the last set field is the coarsest.
	coarsest := 0
	for i, f := range cronFields {
		if _, ok := kwargs[f]; ok {
			coarsest = i
		}
	}
	parts := make([]string, len(cronFields))
	for i, f := range cronFields {
		v := strings.TrimSpace(kwargs[f])
		switch {
		case v != "":
			parts[i] = v
		case i < coarsest && i < 3:
			parts[i] = "0"
		default:
			parts[i] = "*"
		}
	}
	return ParsedSpec{Kind: SpecCron, Cron: strings.Join(parts, " "), Source: "kwargs"}, nil
}

// newParser accepts 5-field and 6-field (with seconds) specs and descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// dayMatcher parses a day_of_week expression ("Mon", "mon-fri", "sat,sun",
// "*", "1-5") with the cron parser and reports whether a weekday is in it.
func dayMatcher(p cron.Parser, dow string) (func(time.Weekday) bool, error) {
	dow = strings.TrimSpace(dow)
	if dow == "" {
		return nil, fmt.Errorf("day_of_week is empty")
	}
	sched, err := p.Parse("0 0 0 * * " + dow)
	if err != nil {
		return nil, fmt.Errorf("invalid day_of_week %q: %w", dow, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("invalid day_of_week %q", dow)
	}
	mask := spec.Dow
	return func(d time.Weekday) bool { return mask&(1<<uint(d)) != 0 }, nil
}
