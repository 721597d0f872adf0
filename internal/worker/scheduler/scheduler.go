// Package scheduler is the scheduler worker: it registers periodic tasks
// with robfig/cron and draws a daily plan for random tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"willbot/internal/bootstrap"
	"willbot/internal/eventbus"
	"willbot/internal/plugin"
	"willbot/internal/storage"
	kit "willbot/internal/transport"
	"willbot/internal/worker"
	logx "willbot/pkg/logx"
)

type Options struct {
	// Enabled=false starts an idle worker that registers nothing.
	Enabled  bool
	Location *time.Location

	Periodic []bootstrap.PeriodicTaskDescriptor
	Random   []bootstrap.RandomTaskDescriptor

	// Sender and DefaultTarget back plugin.Base.Say inside tasks.
	Sender        kit.Sender
	DefaultTarget *kit.ChatTarget
	TaskTimeout   time.Duration

	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger

	// Now and Rand are replaced in tests.
	Now  func() time.Time
	Rand *rand.Rand
}

type Worker struct {
	opts   Options
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	rec    worker.Recorder

	c   *cron.Cron
	ctx context.Context

	mu      sync.Mutex
	stopped bool
	random  []randomTask
	timers  []*time.Timer
	plans  map[string][]time.Time
	errs   []*bootstrap.StartupError
	rng    *rand.Rand

	running sync.WaitGroup
}

func New(opts Options) *Worker {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return &Worker{
		opts:   opts,
		log:    log,
		loc:    loc,
		parser: newParser(),
		rec:    worker.Recorder{Store: opts.Store, Bus: opts.Bus, Log: log},
		plans:  map[string][]time.Time{},
		rng:    rng,
	}
}

func (w *Worker) Name() string { return "scheduler" }

// Start registers every task. Invalid tasks are skipped and reported
// through StartupErrors; they never fail Start.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx = ctx
	if !w.opts.Enabled {
		w.log.Info("scheduler disabled",
			logx.Int("periodic_ignored", len(w.opts.Periodic)),
			logx.Int("random_ignored", len(w.opts.Random)))
		return nil
	}
	cl := cronLogger{w.log}
	w.c = cron.New(
		cron.WithParser(w.parser),
		cron.WithLocation(w.loc),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)

	for _, d := range w.opts.Periodic {
		if err := w.RegisterPeriodic(d); err != nil {
			w.reportf(d.Owner, d.Operation, err)
		}
	}
	for _, d := range w.opts.Random {
		if err := w.RegisterRandom(d); err != nil {
			w.reportf(d.Owner, d.Operation, err)
		}
	}

	if len(w.random) > 0 {
		now := w.opts.Now().In(w.loc)
		if w.opts.Store != nil {
			if n, err := w.opts.Store.PruneState(ctx, now); err != nil {
				w.log.Warn("pruning stale plans failed", logx.Err(err))
			} else if n > 0 {
				w.log.Info("pruned stale random plans", logx.Int("count", n))
			}
		}
		w.planDay(now)
		if _, err := w.c.AddFunc("0 0 0 * * *", func() { w.planDay(w.opts.Now().In(w.loc)) }); err != nil {
			return fmt.Errorf("register daily planner: %w", err)
		}
	}

	w.log.Info("scheduler ready",
		logx.String("tz", w.loc.String()),
		logx.Int("entries", len(w.c.Entries())),
		logx.Int("random", len(w.random)),
		logx.Int("errors", len(w.errs)))
	return nil
}

func (w *Worker) Run(ctx context.Context) error { return w.RunLoop(ctx) }

// RunLoop drives cron until ctx ends, then stops cron and pending timers.
func (w *Worker) RunLoop(ctx context.Context) error {
	if w.c == nil {
		<-ctx.Done()
		return nil
	}
	w.c.Start()
	<-ctx.Done()

	// After stopped is set no task enters running, so Wait cannot race Add.
	w.mu.Lock()
	w.stopped = true
	w.stopTimersLocked()
	w.mu.Unlock()
	cronDone := w.c.Stop()

	select {
	case <-cronDone.Done():
	case <-time.After(5 * time.Second):
		w.log.Warn("cron jobs still running after stop")
	}
	w.running.Wait()
	w.log.Info("scheduler stopped")
	return nil
}

// RegisterPeriodic adds one periodic task to cron.
func (w *Worker) RegisterPeriodic(d bootstrap.PeriodicTaskDescriptor) error {
	if d.Fn == nil {
		return errors.New("periodic task has no function")
	}
	ps, err := periodicSpec(d.Args, d.Kwargs)
	if err != nil {
		return err
	}
	key := d.Owner.String() + "." + d.Operation

	var sched cron.Schedule
	desc := ps.Cron
	switch ps.Kind {
	case SpecCron:
		if sched, err = w.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	case SpecInterval:
		var offset time.Duration
		sched, offset = stagger(ps.Every, w.opts.Now(), key)
		desc = "every " + ps.Every.String()
		w.log.Debug("interval staggered", logx.String("task", key), logx.Duration("offset", offset))
	}

	inv := worker.Invocation{Kind: storage.AuditPeriodic, Owner: d.Owner, Operation: d.Operation}
	fn := d.Fn
	w.c.Schedule(sched, cron.FuncJob(func() { w.runTask(inv, fn) }))
	w.log.Info("periodic task registered", logx.String("task", key), logx.String("schedule", desc), logx.String("source", ps.Source))
	return nil
}

// RegisterRandom validates a random task; its times are drawn per day.
func (w *Worker) RegisterRandom(d bootstrap.RandomTaskDescriptor) error {
	if d.Fn == nil {
		return errors.New("random task has no function")
	}
	if err := validateWindow(d); err != nil {
		return err
	}
	m, err := dayMatcher(w.parser, d.DayOfWeek)
	if err != nil {
		return err
	}
	w.random = append(w.random, randomTask{desc: d, matches: m})
	return nil
}

// StartupErrors returns the registration failures collected by Start.
func (w *Worker) StartupErrors() []*bootstrap.StartupError {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*bootstrap.StartupError(nil), w.errs...)
}

// Plan returns the times drawn today for a random task ("unit.Class.op").
func (w *Worker) Plan(task string) []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Time(nil), w.plans[task]...)
}

func (w *Worker) reportf(owner bootstrap.Owner, op string, err error) {
	w.log.Warn("task registration failed", logx.String("owner", owner.String()), logx.String("op", op), logx.Err(err))
	w.mu.Lock()
	w.errs = append(w.errs, &bootstrap.StartupError{
		Context: "scheduling " + owner.Class + "." + op,
		Kind:    bootstrap.KindScheduleRegistration,
		Err:     err,
	})
	w.mu.Unlock()
}

// planDay draws (or reloads) today's plan for every random task whose
// day_of_week matches, and arms a timer for each time still ahead.
func (w *Worker) planDay(now time.Time) {
	day := midnight(now)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	w.stopTimersLocked()
	w.plans = map[string][]time.Time{}
	armed := 0
	for _, t := range w.random {
		if !t.matches(day.Weekday()) {
			continue
		}
		times := w.loadOrDrawLocked(day, t)
		w.plans[t.key()] = times

		inv := worker.Invocation{Kind: storage.AuditRandom, Owner: t.desc.Owner, Operation: t.desc.Operation}
		fn := t.desc.Fn
		for _, at := range times {
			if !at.After(now) {
				continue
			}
			w.timers = append(w.timers, time.AfterFunc(at.Sub(now), func() { w.runTask(inv, fn) }))
			armed++
		}
	}
	w.log.Info("random tasks planned", logx.String("day", day.Format(time.DateOnly)), logx.Int("timers", armed))
}

func (w *Worker) stopTimersLocked() {
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = w.timers[:0]
}

func (w *Worker) loadOrDrawLocked(day time.Time, t randomTask) []time.Time {
	key := planKey(day, t.key())
	st := w.opts.Store
	if st != nil {
		if b, ok, err := st.GetState(w.ctx, key); err != nil {
			w.log.Warn("loading random plan failed", logx.String("key", key), logx.Err(err))
		} else if ok {
			if times, err := decodePlan(b, w.loc); err == nil {
				return times
			}
		}
	}

	d := t.desc
	times := drawTimes(w.rng, day, d.StartHour, d.EndHour, d.NumTimesPerDay)
	if st != nil {
		b, err := encodePlan(day, times)
		if err == nil {
			err = st.PutState(w.ctx, key, b, day.AddDate(0, 0, 1))
		}
		if err != nil {
			w.log.Warn("saving random plan failed", logx.String("key", key), logx.Err(err))
		}
	}
	return times
}

// enter registers one running task unless the worker has stopped.
func (w *Worker) enter() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.running.Add(1)
	return true
}

func (w *Worker) runTask(inv worker.Invocation, fn plugin.TaskFunc) {
	if !w.enter() {
		return
	}
	defer w.running.Done()

	ctx := w.ctx
	if ctx.Err() != nil {
		return
	}
	if w.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.TaskTimeout)
		defer cancel()
	}
	ctx = plugin.WithOutbound(ctx, w.opts.Sender, w.opts.DefaultTarget)
	ctx = plugin.WithLogger(ctx, w.log.With(logx.String("owner", inv.Owner.String()), logx.String("op", inv.Operation)))

	start := time.Now()
	err := worker.SafeCall(func() error { return fn(ctx) })
	w.rec.Done(ctx, inv, time.Since(start), err)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kvFields(kv)...) }
func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(strings.ReplaceAll(k, " ", "_"), kv[i+1]))
	}
	return out
}
