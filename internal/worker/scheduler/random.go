package scheduler

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"willbot/internal/bootstrap"
)

// maxTimesPerDay bounds num_times_per_day.
const maxTimesPerDay = 1440

// randomTask is a validated random task.
type randomTask struct {
	desc    bootstrap.RandomTaskDescriptor
	matches func(time.Weekday) bool
}

func (t randomTask) key() string {
	return t.desc.Owner.String() + "." + t.desc.Operation
}

// validateWindow checks the parameters a random task carries. The
// classifier forwards them unchanged; range checks happen here.
func validateWindow(d bootstrap.RandomTaskDescriptor) error {
	switch {
	case d.StartHour < 0 || d.StartHour > 23:
		return fmt.Errorf("start_hour %d out of range [0,23]", d.StartHour)
	case d.EndHour < 1 || d.EndHour > 24:
		return fmt.Errorf("end_hour %d out of range [1,24]", d.EndHour)
	case d.StartHour >= d.EndHour:
		return fmt.Errorf("start_hour %d must be before end_hour %d", d.StartHour, d.EndHour)
	case d.NumTimesPerDay < 1 || d.NumTimesPerDay > maxTimesPerDay:
		return fmt.Errorf("num_times_per_day %d out of range [1,%d]", d.NumTimesPerDay, maxTimesPerDay)
	}
	return nil
}

// drawTimes picks n instants in [day+start, day+end), sorted. day must be
// local midnight.
func drawTimes(rng *rand.Rand, day time.Time, start, end, n int) []time.Time {
	from := time.Date(day.Year(), day.Month(), day.Day(), start, 0, 0, 0, day.Location())
	to := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).Add(time.Duration(end) * time.Hour)
	span := to.Sub(from)
	out := make([]time.Time, 0, n)
	for range n {
		off := time.Duration(rng.Int64N(int64(span/time.Second))) * time.Second
		out = append(out, from.Add(off))
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// dayPlan is the persisted form of one task's draw for one day.
type dayPlan struct {
	Day   string  `json:"day"`
	Times []int64 `json:"times"` // unix seconds
}

func planKey(day time.Time, task string) string {
	return "random/" + day.Format(time.DateOnly) + "/" + task
}

func encodePlan(day time.Time, times []time.Time) ([]byte, error) {
	p := dayPlan{Day: day.Format(time.DateOnly), Times: make([]int64, len(times))}
	for i, t := range times {
		p.Times[i] = t.Unix()
	}
	return json.Marshal(p)
}

func decodePlan(b []byte, loc *time.Location) ([]time.Time, error) {
	var p dayPlan
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	out := make([]time.Time, len(p.Times))
	for i, s := range p.Times {
		out[i] = time.Unix(s, 0).In(loc)
	}
	return out, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
