// Package procsup supervises the bot's workers: it starts them in order,
// reports startup errors to the default channel once, and tears everything
// down within a bounded time.
package procsup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"willbot/internal/bootstrap"
	"willbot/internal/eventbus"
	rtsup "willbot/internal/runtime/supervisor"
	"willbot/internal/storage"
	kit "willbot/internal/transport"
	logx "willbot/pkg/logx"
)

// Worker is one supervised unit. Start returns once the worker is ready;
// Run blocks until ctx is cancelled.
type Worker interface {
	Name() string
	Start(ctx context.Context) error
	Run(ctx context.Context) error
}

// StartupReporter is implemented by workers that collect non-fatal errors
// while starting.
type StartupReporter interface {
	StartupErrors() []*bootstrap.StartupError
}

// SummaryNotice opens the startup error report.
const SummaryNotice = "FYI, I had some errors starting up:"

var ErrShutdownTimeout = errors.New("workers still alive after shutdown timeout")

type Options struct {
	// StartupErrors is the frozen bootstrap error list.
	StartupErrors []*bootstrap.StartupError

	Sender        kit.Sender
	DefaultTarget *kit.ChatTarget

	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	// Progress receives one "." per shutdown poll tick.
	Progress io.Writer

	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
}

type ProcessSupervisor struct {
	opts    Options
	log     logx.Logger
	workers []Worker
	groups  []*rtsup.Supervisor
}

// WorkerStatus is the liveness view of one worker.
type WorkerStatus struct {
	Name     string         `json:"name"`
	Alive    bool           `json:"alive"`
	Snapshot rtsup.Snapshot `json:"snapshot"`
}

// New supervises workers in the given order (transport, scheduler, HTTP).
func New(opts Options, workers ...Worker) *ProcessSupervisor {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &ProcessSupervisor{opts: opts, log: log.With(logx.String("comp", "procsup")), workers: workers}
}

// Start brings the workers up in order. If one fails to start, the ones
// already running are shut down and a KindSupervision error is returned.
// On success the startup error report is sent.
func (p *ProcessSupervisor) Start(ctx context.Context) error {
	for _, w := range p.workers {
		name := w.Name()
		g := rtsup.New(ctx, rtsup.WithLogger(p.log.With(logx.String("worker", name))))

		err := safeStart(g.Context(), w)
		if err != nil {
			g.Cancel()
			serr := &bootstrap.StartupError{Context: "starting " + name, Kind: bootstrap.KindSupervision, Err: err}
			p.log.Error("worker failed to start", logx.String("worker", name), logx.Err(err))
			if len(p.groups) > 0 {
				sctx := context.WithoutCancel(ctx)
				if derr := p.Shutdown(sctx); derr != nil {
					p.log.Warn("rollback incomplete", logx.Err(derr))
				}
			}
			return serr
		}

		p.groups = append(p.groups, g)
		g.Go(name, func(c context.Context) error {
			err := w.Run(c)
			if c.Err() == nil {
				// Not restarted: the worker stays down until the next start.
				p.log.Error("worker exited on its own", logx.String("worker", name), logx.Err(err))
				p.opts.Bus.Publish(eventbus.Event{Type: eventbus.WorkerExited, Data: name})
			}
			return err
		})
		p.opts.Bus.Publish(eventbus.Event{Type: eventbus.WorkerStarted, Data: name})
		p.log.Info("worker started", logx.String("worker", name))
	}

	p.Report(ctx)
	return nil
}

func safeStart(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Start(ctx)
}

// StartupErrors returns the bootstrap errors followed by those collected by
// started workers.
func (p *ProcessSupervisor) StartupErrors() []*bootstrap.StartupError {
	out := append([]*bootstrap.StartupError(nil), p.opts.StartupErrors...)
	for _, w := range p.workers {
		if r, ok := w.(StartupReporter); ok {
			out = append(out, r.StartupErrors()...)
		}
	}
	return out
}

// Report sends one summary notice and one message per startup error to the
// default channel. Without a sender or channel the errors are only logged.
func (p *ProcessSupervisor) Report(ctx context.Context) {
	errs := p.StartupErrors()
	if len(errs) == 0 {
		return
	}
	for _, e := range errs {
		p.log.Warn("startup error", logx.String("context", e.Context), logx.String("kind", e.Kind.String()), logx.Err(e.Err))
		p.audit(ctx, e)
	}
	if p.opts.Sender == nil || p.opts.DefaultTarget == nil {
		p.log.Warn("startup errors not reported: no default channel", logx.Int("count", len(errs)))
		return
	}
	to := *p.opts.DefaultTarget
	send := func(text string) {
		if _, err := p.opts.Sender.SendText(ctx, to, text, nil); err != nil {
			p.log.Warn("startup report send failed", logx.String("to", to.String()), logx.Err(err))
		}
	}
	send(SummaryNotice)
	for _, e := range errs {
		send(e.Error())
	}
}

func (p *ProcessSupervisor) audit(ctx context.Context, e *bootstrap.StartupError) {
	if p.opts.Store == nil {
		return
	}
	entry := storage.AuditEntry{Kind: storage.AuditStartup, Owner: e.Context, Operation: e.Kind.String(), Error: e.Error()}
	if err := p.opts.Store.AppendAudit(ctx, entry); err != nil {
		p.log.Debug("audit append failed", logx.Err(err))
	}
}

// Wait blocks until ctx ends. A worker exiting on its own does not end Wait.
func (p *ProcessSupervisor) Wait(ctx context.Context) {
	<-ctx.Done()
}

// Shutdown requests termination of every worker, then polls liveness every
// PollInterval until all have exited. It returns ErrShutdownTimeout if some
// are still alive after ShutdownTimeout.
func (p *ProcessSupervisor) Shutdown(ctx context.Context) error {
	p.opts.Bus.Publish(eventbus.Event{Type: eventbus.ShutdownBegin})
	p.log.Info("shutdown requested", logx.Int("workers", len(p.groups)))
	for _, g := range p.groups {
		g.Cancel()
	}

	start := time.Now()
	deadline := start.Add(p.opts.ShutdownTimeout)
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		alive := p.alive()
		if len(alive) == 0 {
			p.log.Info("all workers stopped", logx.Duration("took", time.Since(start)))
			for _, w := range p.workers[:len(p.groups)] {
				p.opts.Bus.Publish(eventbus.Event{Type: eventbus.WorkerStopped, Data: w.Name()})
			}
			return nil
		}
		if !time.Now().Before(deadline) {
			p.log.Error("shutdown timed out", logx.Strings("alive", alive), logx.Duration("timeout", p.opts.ShutdownTimeout))
			return fmt.Errorf("%w: %s", ErrShutdownTimeout, strings.Join(alive, ", "))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		_, _ = io.WriteString(p.opts.Progress, ".")
		p.log.Debug("waiting for workers", logx.Strings("alive", alive))
	}
}

func (p *ProcessSupervisor) alive() []string {
	var out []string
	for i, g := range p.groups {
		if g.Alive() {
			out = append(out, p.workers[i].Name())
		}
	}
	return out
}

// Status reports liveness per started worker.
func (p *ProcessSupervisor) Status() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(p.groups))
	for i, g := range p.groups {
		out = append(out, WorkerStatus{Name: p.workers[i].Name(), Alive: g.Alive(), Snapshot: g.Snapshot()})
	}
	return out
}
