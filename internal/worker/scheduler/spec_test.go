package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:01:00", kind: SpecInterval, source: "hhmm", duration: time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "-5m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestPeriodicSpecFromKwargs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kwargs map[string]string
		want   string
	}{
		{map[string]string{"hour": "9"}, "0 0 9 * * *"},
		{map[string]string{"minute": "*/5"}, "0 */5 * * * *"},
		{map[string]string{"hour": "9", "minute": "30", "day_of_week": "mon-fri"}, "0 30 9 * * mon-fri"},
		{map[string]string{"day_of_week": "sun"}, "0 0 0 * * sun"},
		{map[string]string{"second": "15"}, "15 * * * * *"},
		{map[string]string{"day": "1", "month": "1"}, "0 0 0 1 1 *"},
		{map[string]string{"minute": "5", "day": "1"}, "0 5 0 1 * *"},
	}
	p := newParser()
	for _, tt := range tests {
		got, err := periodicSpec(nil, tt.kwargs)
		require.NoError(t, err, "%v", tt.kwargs)
		assert.Equal(t, SpecCron, got.Kind)
		assert.Equal(t, "kwargs", got.Source)
		assert.Equal(t, tt.want, got.Cron, "%v", tt.kwargs)
		_, err = p.Parse(got.Cron)
		assert.NoError(t, err, got.Cron)
	}
}

func TestPeriodicSpecErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		args   []string
		kwargs map[string]string
	}{
		{nil, nil},
		{[]string{"1m", "2m"}, nil},
		{[]string{"1m"}, map[string]string{"hour": "1"}},
		{nil, map[string]string{"schedule": "1m", "hour": "1"}},
		{nil, map[string]string{"fortnight": "1"}},
	}
	for _, c := range cases {
		_, err := periodicSpec(c.args, c.kwargs)
		assert.Error(t, err, "%v %v", c.args, c.kwargs)
	}

	got, err := periodicSpec(nil, map[string]string{"schedule": "@daily"})
	require.NoError(t, err)
	assert.Equal(t, "@daily", got.Cron)
}

func TestDayMatcher(t *testing.T) {
	t.Parallel()
	p := newParser()
	tests := []struct {
		dow  string
		want []time.Weekday
	}{
		{"Mon", []time.Weekday{time.Monday}},
		{"mon-fri", []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}},
		{"sat,sun", []time.Weekday{time.Sunday, time.Saturday}},
		{"*", []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}},
	}
	for _, tt := range tests {
		m, err := dayMatcher(p, tt.dow)
		require.NoError(t, err, tt.dow)
		var got []time.Weekday
		for d := time.Sunday; d <= time.Saturday; d++ {
			if m(d) {
				got = append(got, d)
			}
		}
		assert.Equal(t, tt.want, got, tt.dow)
	}

	_, err := dayMatcher(p, "funday")
	assert.Error(t, err)
	_, err = dayMatcher(p, " ")
	assert.Error(t, err)
}

func TestStaggerIsStablePerTask(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s1, off1 := stagger(time.Minute, now, "chat.hello.Hello.tick")
	_, off2 := stagger(time.Minute, now, "chat.hello.Hello.tick")
	assert.Equal(t, off1, off2)
	assert.Less(t, off1, maxStagger)

	first := s1.Next(now)
	assert.Equal(t, now.Add(time.Minute+off1), first)
	assert.WithinDuration(t, first.Add(time.Minute), s1.Next(first), time.Second)

	_, off := stagger(10*time.Second, now, "x")
	assert.Less(t, off, 10*time.Second)
}
