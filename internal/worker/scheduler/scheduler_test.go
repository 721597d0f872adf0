package scheduler

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"willbot/internal/bootstrap"
	"willbot/internal/storage"
	"willbot/internal/worker"
	logx "willbot/pkg/logx"
)

func noop(context.Context) error { return nil }

func randomDesc(class string, start, end int, dow string, n int) bootstrap.RandomTaskDescriptor {
	return bootstrap.RandomTaskDescriptor{
		Owner:          bootstrap.Owner{Unit: "u", Class: class},
		Operation:      "wander",
		StartHour:      start,
		EndHour:        end,
		DayOfWeek:      dow,
		NumTimesPerDay: n,
		Fn:             noop,
	}
}

// 2024-01-01 is a Monday.
var monday = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func TestDrawTimesWithinWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		start := rapid.IntRange(0, 23).Draw(rt, "start")
		end := rapid.IntRange(start+1, 24).Draw(rt, "end")
		n := rapid.IntRange(1, 50).Draw(rt, "n")
		seed := rapid.Uint64().Draw(rt, "seed")

		day := midnight(monday)
		times := drawTimes(rand.New(rand.NewPCG(seed, 1)), day, start, end, n)
		if len(times) != n {
			rt.Fatalf("drew %d times, want %d", len(times), n)
		}
		lo := day.Add(time.Duration(start) * time.Hour)
		hi := day.Add(time.Duration(end) * time.Hour)
		for i, at := range times {
			if at.Before(lo) || !at.Before(hi) {
				rt.Fatalf("%s outside [%s, %s)", at, lo, hi)
			}
			if i > 0 && at.Before(times[i-1]) {
				rt.Fatalf("times not sorted")
			}
		}
	})
}

func TestValidateWindow(t *testing.T) {
	assert.NoError(t, validateWindow(randomDesc("A", 9, 17, "Mon", 3)))
	assert.NoError(t, validateWindow(randomDesc("A", 0, 24, "*", 1)))
	assert.Error(t, validateWindow(randomDesc("A", 17, 9, "Mon", 3)))
	assert.Error(t, validateWindow(randomDesc("A", 9, 9, "Mon", 3)))
	assert.Error(t, validateWindow(randomDesc("A", -1, 9, "Mon", 3)))
	assert.Error(t, validateWindow(randomDesc("A", 9, 25, "Mon", 3)))
	assert.Error(t, validateWindow(randomDesc("A", 9, 17, "Mon", 0)))
}

func newTestWorker(t *testing.T, now time.Time, st storage.Store, opts Options) *Worker {
	t.Helper()
	opts.Enabled = true
	opts.Location = time.UTC
	opts.Store = st
	opts.Log = logx.Nop()
	opts.Now = func() time.Time { return now }
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	return New(opts)
}

func TestStartPlansMatchingDaysAndReportsErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newTestWorker(t, monday, nil, Options{
		Random: []bootstrap.RandomTaskDescriptor{
			randomDesc("Mon", 9, 17, "Mon", 3),
			randomDesc("Weekend", 9, 17, "sat,sun", 2),
			randomDesc("Bad", 17, 9, "Mon", 1),
			randomDesc("Badday", 9, 17, "caturday", 1),
		},
		Periodic: []bootstrap.PeriodicTaskDescriptor{
			{Owner: bootstrap.Owner{Unit: "u", Class: "Tick"}, Operation: "tick", Args: []string{"5m"}, Fn: noop},
			{Owner: bootstrap.Owner{Unit: "u", Class: "Nope"}, Operation: "tick", Args: []string{"whenever"}, Fn: noop},
		},
	})
	require.NoError(t, w.Start(ctx))

	plan := w.Plan("u.Mon.wander")
	require.Len(t, plan, 3)
	for _, at := range plan {
		assert.Equal(t, 2024, at.Year())
		assert.GreaterOrEqual(t, at.Hour(), 9)
		assert.Less(t, at.Hour(), 17)
	}
	assert.Empty(t, w.Plan("u.Weekend.wander"))

	errs := w.StartupErrors()
	require.Len(t, errs, 3)
	var contexts []string
	for _, e := range errs {
		contexts = append(contexts, e.Context)
		assert.ErrorIs(t, e, bootstrap.ErrScheduleRegister)
	}
	assert.ElementsMatch(t, []string{"scheduling Nope.tick", "scheduling Bad.wander", "scheduling Badday.wander"}, contexts)

	// Periodic tick plus the daily planner.
	assert.Len(t, w.c.Entries(), 2)
}

func TestPlanSurvivesRestartSameDay(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	// Store expiry is wall-clock based; plan for today.
	now := time.Now().UTC()
	desc := randomDesc("R", 0, 24, "*", 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := newTestWorker(t, now, st, Options{Random: []bootstrap.RandomTaskDescriptor{desc}, Rand: rand.New(rand.NewPCG(1, 1))})
	require.NoError(t, first.Start(ctx))
	second := newTestWorker(t, now, st, Options{Random: []bootstrap.RandomTaskDescriptor{desc}, Rand: rand.New(rand.NewPCG(99, 99))})
	require.NoError(t, second.Start(ctx))

	a, b := first.Plan("u.R.wander"), second.Plan("u.R.wander")
	require.Len(t, a, 4)
	for i := range a {
		assert.True(t, a[i].Equal(b[i]), "plan differs at %d: %s vs %s", i, a[i], b[i])
	}
}

func TestPeriodicTaskFiresAndStops(t *testing.T) {
	var calls atomic.Int32
	w := New(Options{
		Enabled: true,
		Periodic: []bootstrap.PeriodicTaskDescriptor{{
			Owner:     bootstrap.Owner{Unit: "u", Class: "P"},
			Operation: "fast",
			Args:      []string{"@every 1s"},
			Fn: func(context.Context) error {
				calls.Add(1)
				return nil
			},
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 4*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReplanningReplacesTimers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 08:00 on Monday, window 9-17: every drawn time is still ahead.
	w := newTestWorker(t, monday, nil, Options{
		Random: []bootstrap.RandomTaskDescriptor{randomDesc("R", 9, 17, "*", 3)},
	})
	require.NoError(t, w.Start(ctx))

	w.planDay(monday)
	w.planDay(monday)

	w.mu.Lock()
	armed := len(w.timers)
	w.stopTimersLocked()
	w.mu.Unlock()
	assert.Equal(t, 3, armed)
}

func TestNoTaskRunsAfterStop(t *testing.T) {
	var calls atomic.Int32
	w := newTestWorker(t, monday, nil, Options{
		Random: []bootstrap.RandomTaskDescriptor{randomDesc("R", 9, 17, "*", 2)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	// A timer that fired just before RunLoop stopped it lands here.
	w.runTask(worker.Invocation{Kind: storage.AuditRandom, Operation: "late"}, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	w.planDay(monday)

	assert.Zero(t, calls.Load())
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Empty(t, w.timers)
}

func TestDisabledWorkerIdles(t *testing.T) {
	w := New(Options{Random: []bootstrap.RandomTaskDescriptor{randomDesc("R", 9, 17, "Mon", 1)}})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()
	assert.NoError(t, w.Run(ctx))
	assert.Empty(t, w.StartupErrors())
}
