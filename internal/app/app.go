// Package app wires configuration, logging, storage and the plugin tables
// into the three supervised workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"willbot/internal/bootstrap"
	"willbot/internal/config"
	"willbot/internal/eventbus"
	"willbot/internal/plugin/discovery"
	"willbot/internal/runtime/procsup"
	"willbot/internal/runtime/sdnotify"
	rtsup "willbot/internal/runtime/supervisor"
	"willbot/internal/storage"
	kit "willbot/internal/transport"
	"willbot/internal/transport/console"
	"willbot/internal/transport/telegram"
	"willbot/internal/worker/httpd"
	"willbot/internal/worker/scheduler"
	transportw "willbot/internal/worker/transport"
	logx "willbot/pkg/logx"
)

// Option customizes an App; tests and the console transport use them.
type Option func(*App)

// WithConsoleIO sets the streams of the console transport.
func WithConsoleIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.stdin, a.stdout = in, out }
}

// WithProgress sets where shutdown progress dots are printed.
func WithProgress(w io.Writer) Option {
	return func(a *App) { a.progress = w }
}

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	target  *kit.ChatTarget

	boot  *bootstrap.Result
	procs *procsup.ProcessSupervisor
	sd    *sdnotify.Notifier
	// bg runs config watch, event logging and the watchdog.
	bg *rtsup.Supervisor

	stdin    io.Reader
	stdout   io.Writer
	progress io.Writer
}

// New loads the config file and builds logging, storage and the transport
// adapter. Nothing is started.
func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{stdin: os.Stdin, stdout: os.Stdout, progress: os.Stdout}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}
	a.cfg = cfg

	// The chat sink needs a sender and target first; enable it after both are set.
	logCfg := mapLoggingConfig(cfg)
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	a.logs, a.log = logx.New(logCfg)
	a.log = a.log.With(logx.String("bot", cfg.Bot.Name))

	if a.target, err = defaultTarget(cfg, console.ChatID); err != nil {
		return nil, err
	}

	switch cfg.Transport.Driver {
	case "console":
		a.adapter = console.New(console.Config{
			Username: cfg.Transport.Console.Username,
			Direct:   cfg.Transport.Console.Direct,
		}, a.stdin, a.stdout, a.log)
	default:
		pollTimeout, err := config.ParseDurationOrDefault("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout, config.DefaultPollTimeout)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{Token: cfg.Transport.Telegram.Token, PollTimeout: pollTimeout}, a.log)
		if err != nil {
			return nil, err
		}
		a.adapter = ad
	}

	a.logs.SetSender(a.adapter)
	if a.target != nil {
		a.logs.SetChatTarget(*a.target)
	}
	logCfg.Chat.Enabled = chatEnabled
	a.logs.Apply(logCfg)

	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.sd = sdnotify.New(a.log)
	return a, nil
}

// Start runs one bootstrap cycle, then starts transport, scheduler and HTTP
// in that order. A worker that fails to start aborts Start; plugin
// failures do not.
func (a *App) Start(ctx context.Context) error {
	log := a.log.With(logx.String("comp", "app"))
	a.bg = rtsup.New(ctx, rtsup.WithLogger(log))

	boot, err := bootstrap.Run(ctx, bootstrap.Options{
		Dir:     a.cfg.Plugins.Dir,
		Loaders: discovery.DefaultLoaders(),
		Log:     a.log.With(logx.String("comp", "bootstrap")),
	})
	if err != nil {
		return fmt.Errorf("plugin tree: %w", err)
	}
	a.boot = boot
	a.bus.Publish(eventbus.Event{Type: eventbus.BootstrapDone, Data: boot.CycleID.String()})

	workers, err := a.buildWorkers(boot.Tables)
	if err != nil {
		return err
	}
	poll, timeout, err := a.cfg.Supervisor.Intervals()
	if err != nil {
		return err
	}
	a.procs = procsup.New(procsup.Options{
		StartupErrors:   boot.Errors.Items(),
		Sender:          a.adapter,
		DefaultTarget:   a.target,
		PollInterval:    poll,
		ShutdownTimeout: timeout,
		Progress:        a.progress,
		Store:           a.store,
		Bus:             a.bus,
		Log:             a.log,
	}, workers...)

	if err := a.procs.Start(ctx); err != nil {
		return err
	}

	a.startBackground()
	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("%d capabilities, %d startup errors", boot.Tables.Count(), len(a.procs.StartupErrors())))
	log.Info("bot started",
		logx.String("cycle", boot.CycleID.String()),
		logx.String("transport", a.adapter.Name()))
	return nil
}

func (a *App) buildWorkers(t *bootstrap.Tables) ([]procsup.Worker, error) {
	h := a.cfg.Transport.Handler
	tw := transportw.New(transportw.Options{
		Adapter:       a.adapter,
		Listeners:     t.Listeners,
		IncludeMe:     t.SomeListenersIncludeMe,
		DefaultTarget: a.target,
		Workers:       h.Workers,
		QueueSize:     h.QueueSize,
		Timeout:       h.TimeoutOrDefault(),
		Store:         a.store,
		Bus:           a.bus,
		Log:           a.log,
	})

	loc, err := schedulerLocation(a.cfg)
	if err != nil {
		return nil, err
	}
	sw := scheduler.New(scheduler.Options{
		Enabled:       a.cfg.Scheduler.Enabled,
		Location:      loc,
		Periodic:      t.Periodic,
		Random:        t.Random,
		Sender:        a.adapter,
		DefaultTarget: a.target,
		TaskTimeout:   h.TimeoutOrDefault(),
		Store:         a.store,
		Bus:           a.bus,
		Log:           a.log,
	})

	ht, err := mapHTTPTimeouts(a.cfg)
	if err != nil {
		return nil, err
	}
	hopts := httpd.Options{
		Enabled:       a.cfg.HTTP.Enabled,
		Host:          a.cfg.HTTP.Host,
		Port:          a.cfg.HTTP.Port,
		ReadTimeout:   ht.read,
		WriteTimeout:  ht.write,
		Routes:        t.Routes,
		Debug:         httpd.DebugOptions{Enabled: a.cfg.HTTP.Debug.Enabled, Token: a.cfg.HTTP.Debug.Token},
		Sender:        a.adapter,
		DefaultTarget: a.target,
		Log:           a.log,
	}
	if a.cfg.HTTP.Status {
		hopts.Status = a.Status
	}
	hw := httpd.New(hopts)

	return []procsup.Worker{tw, sw, hw}, nil
}

// Status is the snapshot served at the HTTP status endpoint.
type Status struct {
	Bot           string                 `json:"bot"`
	Cycle         string                 `json:"cycle"`
	Listeners     int                    `json:"listeners"`
	Periodic      int                    `json:"periodic"`
	Random        int                    `json:"random"`
	Routes        int                    `json:"routes"`
	StartupErrors []string               `json:"startup_errors"`
	Workers       []procsup.WorkerStatus `json:"workers"`
}

func (a *App) Status() any {
	st := Status{Bot: a.cfg.Bot.Name, StartupErrors: []string{}}
	if a.boot != nil {
		st.Cycle = a.boot.CycleID.String()
		st.Listeners = len(a.boot.Tables.Listeners)
		st.Periodic = len(a.boot.Tables.Periodic)
		st.Random = len(a.boot.Tables.Random)
		st.Routes = len(a.boot.Tables.Routes)
	}
	if a.procs != nil {
		for _, e := range a.procs.StartupErrors() {
			st.StartupErrors = append(st.StartupErrors, e.Error())
		}
		st.Workers = a.procs.Status()
	}
	return st
}

// Wait blocks until ctx ends.
func (a *App) Wait(ctx context.Context) {
	if a.procs != nil {
		a.procs.Wait(ctx)
		return
	}
	<-ctx.Done()
}

// Stop shuts the workers down within the supervisor bound, then releases
// background goroutines, storage and log sinks. It returns
// procsup.ErrShutdownTimeout if some worker outlived the bound.
func (a *App) Stop(ctx context.Context) error {
	a.sd.Stopping()
	var err error
	if a.procs != nil {
		err = a.procs.Shutdown(ctx)
		if errors.Is(err, procsup.ErrShutdownTimeout) {
			a.log.Error("giving up on workers", logx.Err(err))
		}
	}
	if a.bg != nil {
		a.bg.Cancel()
		if werr := a.bg.Wait(ctx); werr != nil {
			a.log.Debug("background wait", logx.Err(werr))
		}
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.log.Warn("storage close failed", logx.Err(cerr))
		}
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// Run is Start, Wait and Stop. When Start fails, workers already started are
// stopped and the start error is returned.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.log.Error("start failed", logx.Err(err))
		if a.bg != nil {
			a.bg.Cancel()
		}
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = a.logs.Close()
		return err
	}
	a.Wait(ctx)
	return a.Stop(context.WithoutCancel(ctx))
}

func (a *App) startBackground() {
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := defaultTarget(cfg, console.ChatID); err != nil {
			return err
		}
		_, err := schedulerLocation(cfg)
		return err
	})

	a.bg.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	sub := a.cfgm.Subscribe(8)
	a.bg.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(last, next)
				last = next
			}
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.bg.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	a.bg.Go0("sd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, a.healthy)
	})
}

// applyReload applies logging changes live. Every other section is read
// only at startup.
func (a *App) applyReload(prev, next *config.Config) {
	changed, attrs := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if target, err := defaultTarget(next, console.ChatID); err == nil && target != nil {
		a.logs.SetChatTarget(*target)
	}
	a.logs.Apply(mapLoggingConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if config.RestartRequired(changed) {
		a.log.Warn("restart required for some changes to take effect", logx.String("changed", strings.Join(changed, ",")))
	}
}

func (a *App) healthy() bool {
	if a.procs == nil {
		return false
	}
	for _, w := range a.procs.Status() {
		if !w.Alive {
			return false
		}
	}
	return true
}

// Inspect runs a bootstrap cycle without starting any worker. It backs the
// dry-run CLI.
func Inspect(ctx context.Context, cfgPath string, log logx.Logger) (*bootstrap.Result, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Plugins.Dir) == "" {
		return nil, errors.New("plugins.dir is not set")
	}
	return bootstrap.Run(ctx, bootstrap.Options{Dir: cfg.Plugins.Dir, Loaders: discovery.DefaultLoaders(), Log: log})
}
