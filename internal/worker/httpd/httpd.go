// Package httpd is the HTTP worker: it mounts plugin routes on a chi router
// and serves them until cancelled.
package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"willbot/internal/bootstrap"
	"willbot/internal/plugin"
	kit "willbot/internal/transport"
	logx "willbot/pkg/logx"
)

const (
	// reservedPrefix is owned by the bot; plugins cannot mount under it.
	reservedPrefix = "/_willbot/"
	// StatusPath serves the status snapshot when Options.Status is set.
	StatusPath = reservedPrefix + "status"
)

type Options struct {
	// Enabled=false starts an idle worker that binds nothing.
	Enabled      bool
	Host         string
	Port         int // 0 picks a free port
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Routes []bootstrap.RouteDescriptor
	// Status, if set, is rendered as JSON at StatusPath.
	Status func() any
	Debug  DebugOptions

	Sender        kit.Sender
	DefaultTarget *kit.ChatTarget
	Log           logx.Logger
}

type Worker struct {
	opts   Options
	log    logx.Logger
	router chi.Router

	mu     sync.Mutex
	seen   map[string]bootstrap.Owner
	errs   []*bootstrap.StartupError
	srv    *http.Server
	ln     net.Listener
	routes int
}

func New(opts Options) *Worker {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "httpd"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer(log))
	r.Use(requestLogger(log))

	return &Worker{opts: opts, log: log, router: r, seen: map[string]bootstrap.Owner{}}
}

func (w *Worker) Name() string { return "http" }

// Handler exposes the router, mainly for tests.
func (w *Worker) Handler() http.Handler { return w.router }

// Start mounts every route and binds the listener. Routes are complete
// before anything is served; Run only starts accepting.
func (w *Worker) Start(ctx context.Context) error {
	if !w.opts.Enabled {
		w.log.Info("http disabled", logx.Int("routes_ignored", len(w.opts.Routes)))
		return nil
	}
	for _, d := range w.opts.Routes {
		if err := w.RegisterRoute(d); err != nil {
			w.log.Warn("route registration failed", logx.String("owner", d.Owner.String()), logx.String("route", d.Route.String()), logx.Err(err))
			w.mu.Lock()
			w.errs = append(w.errs, &bootstrap.StartupError{
				Context: "routing " + d.Owner.Class + "." + d.Operation,
				Kind:    bootstrap.KindScheduleRegistration,
				Err:     err,
			})
			w.mu.Unlock()
		}
	}
	if w.opts.Status != nil {
		w.router.Get(StatusPath, w.serveStatus)
	}
	if w.opts.Debug.Enabled {
		if err := w.mountDebug(); err != nil {
			w.log.Warn("debug endpoints not mounted", logx.Err(err))
			w.mu.Lock()
			w.errs = append(w.errs, &bootstrap.StartupError{Context: "routing " + DebugPath, Kind: bootstrap.KindScheduleRegistration, Err: err})
			w.mu.Unlock()
		}
	}
	return w.Serve(ctx, w.opts.Host, w.opts.Port)
}

// RegisterRoute mounts one plugin route. A method and path may be claimed
// by a single operation.
func (w *Worker) RegisterRoute(d bootstrap.RouteDescriptor) (err error) {
	if d.Handler == nil {
		return errors.New("route has no handler")
	}
	method := strings.ToUpper(strings.TrimSpace(d.Route.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := strings.TrimSpace(d.Route.Path)
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("route path %q must start with /", d.Route.Path)
	}
	if strings.HasPrefix(path, reservedPrefix) {
		return fmt.Errorf("route path %q is reserved", path)
	}
	key := method + " " + path

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, dup := w.seen[key]; dup {
		return fmt.Errorf("route %s already registered by %s", key, prev)
	}

	// chi panics on malformed patterns and unknown methods.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mount %s: %v", key, r)
		}
	}()
	w.router.Method(method, path, w.wrap(d))
	w.seen[key] = d.Owner
	w.routes++
	w.log.Debug("route mounted", logx.String("route", key), logx.String("owner", d.Owner.String()))
	return nil
}

// wrap gives plugin handlers the outbound sender and a scoped logger.
func (w *Worker) wrap(d bootstrap.RouteDescriptor) http.Handler {
	log := w.log.With(logx.String("owner", d.Owner.String()), logx.String("op", d.Operation))
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := plugin.WithOutbound(r.Context(), w.opts.Sender, w.opts.DefaultTarget)
		ctx = plugin.WithLogger(ctx, log)
		d.Handler.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// Serve binds host:port. It does not accept connections until Run.
func (w *Worker) Serve(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	w.mu.Lock()
	w.ln = ln
	w.srv = &http.Server{
		Handler:           w.router,
		ReadTimeout:       w.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      w.opts.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	w.mu.Unlock()
	w.log.Info("http bound", logx.String("addr", ln.Addr().String()), logx.Int("routes", w.routes))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (w *Worker) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ln == nil {
		return ""
	}
	return w.ln.Addr().String()
}

func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	srv, ln := w.srv, w.ln
	w.mu.Unlock()
	if srv == nil {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		w.log.Warn("http shutdown incomplete", logx.Err(err))
		_ = srv.Close()
	}
	<-errCh
	w.log.Info("http stopped")
	return nil
}

// StartupErrors returns the route registration failures collected by Start.
func (w *Worker) StartupErrors() []*bootstrap.StartupError {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*bootstrap.StartupError(nil), w.errs...)
}

func (w *Worker) serveStatus(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(rw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.opts.Status()); err != nil {
		w.log.Debug("status encode failed", logx.Err(err))
	}
}

func recoverer(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("http handler panicked",
						logx.String("request_id", middleware.GetReqID(r.Context())),
						logx.String("path", r.URL.Path),
						logx.Any("panic", rec),
						logx.Stack(string(debug.Stack())))
					http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(rw, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Debug("request",
				logx.String("request_id", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", status),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("took", time.Since(start)),
				logx.String("ip", r.RemoteAddr))
		})
	}
}
