// Package transport is the message worker: it connects the chat adapter and
// dispatches every inbound message to the listeners that match it.
package transport

import (
	"context"
	"sync"
	"time"

	"willbot/internal/bootstrap"
	"willbot/internal/eventbus"
	"willbot/internal/listener"
	"willbot/internal/plugin"
	"willbot/internal/storage"
	kit "willbot/internal/transport"
	"willbot/internal/worker"
	logx "willbot/pkg/logx"
)

type Options struct {
	Adapter   kit.Adapter
	Listeners []bootstrap.ListenerDescriptor
	// IncludeMe mirrors Tables.SomeListenersIncludeMe.
	IncludeMe     bool
	DefaultTarget *kit.ChatTarget

	// Workers is the number of messages handled concurrently; hits of one
	// message always run sequentially in table order.
	Workers   int
	QueueSize int
	Timeout   time.Duration

	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
}

type Worker struct {
	opts   Options
	log    logx.Logger
	tables *bootstrap.Tables
	rec    worker.Recorder
	in     chan kit.Message
}

func New(opts Options) *Worker {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "transport"))
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	return &Worker{
		opts:   opts,
		log:    log,
		tables: &bootstrap.Tables{Listeners: opts.Listeners, SomeListenersIncludeMe: opts.IncludeMe},
		rec:    worker.Recorder{Store: opts.Store, Bus: opts.Bus, Log: log},
		in:     make(chan kit.Message, opts.QueueSize),
	}
}

func (w *Worker) Name() string { return "transport" }

// Sender is the connected adapter; startup reports go through it.
func (w *Worker) Sender() kit.Sender { return w.opts.Adapter }

// Start connects the adapter. It returns once messages can flow.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.opts.Adapter.Start(ctx, w.in); err != nil {
		return err
	}
	w.log.Info("transport connected",
		logx.String("adapter", w.opts.Adapter.Name()),
		logx.Int("listeners", len(w.opts.Listeners)),
		logx.Bool("include_me", w.opts.IncludeMe))
	return nil
}

// Run pumps inbound messages until ctx ends, then stops the adapter and
// drains in-flight handlers.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-w.in:
					w.Handle(ctx, msg)
				}
			}
		}()
	}

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := w.opts.Adapter.Stop(sctx); err != nil {
		w.log.Warn("adapter stop failed", logx.Err(err))
	}
	wg.Wait()
	w.log.Info("transport stopped")
	return nil
}

// Handle matches msg and invokes every hit in table order. It returns the
// number of listeners invoked.
func (w *Worker) Handle(ctx context.Context, msg kit.Message) int {
	if !listener.ShouldEvaluate(msg, w.tables) {
		return 0
	}
	hits := listener.Match(msg, w.tables.Listeners)
	for _, h := range hits {
		if ctx.Err() != nil {
			return 0
		}
		w.invoke(ctx, msg, h)
	}
	return len(hits)
}

func (w *Worker) invoke(ctx context.Context, msg kit.Message, h listener.Hit) {
	l := h.Listener
	inv := worker.Invocation{
		Kind:      storage.AuditListener,
		Owner:     l.Owner,
		Operation: l.Operation,
		ActorID:   msg.FromID,
		ChatID:    msg.ChatID,
		ThreadID:  msg.ThreadID,
	}

	cctx := ctx
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}
	cctx = plugin.WithOutbound(cctx, w.opts.Adapter, w.opts.DefaultTarget)
	cctx = plugin.WithLogger(cctx, w.log.With(logx.String("owner", l.Owner.String()), logx.String("op", l.Operation)))

	ev := plugin.NewEvent(msg, h.Groups, h.Args, w.opts.Adapter)
	start := time.Now()
	err := worker.SafeCall(func() error { return l.Fn(cctx, ev) })
	w.rec.Done(ctx, inv, time.Since(start), err)
}
