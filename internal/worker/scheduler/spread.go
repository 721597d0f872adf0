package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStagger = 30 * time.Second

// staggered is an interval schedule whose first run is pushed back by a
// fixed offset.
type staggered struct {
	base  cron.Schedule
	first time.Time
}

func (s staggered) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// stagger spreads @every tasks registered in the same instant. The offset is
// below min(every, 30s) and derived from the task key, so a task keeps its
// slot across restarts.
func stagger(every time.Duration, now time.Time, key string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStagger)
	if window <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	offset := time.Duration(h.Sum64() % uint64(window))
	return staggered{base: base, first: now.Add(every + offset)}, offset
}
