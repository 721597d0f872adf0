package procsup

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"willbot/internal/bootstrap"
	"willbot/internal/eventbus"
	kit "willbot/internal/transport"
	logx "willbot/pkg/logx"
)

type fakeWorker struct {
	name     string
	startErr error
	// linger keeps Run alive this long after cancellation.
	linger time.Duration
	// exitEarly makes Run return without waiting for cancellation.
	exitEarly bool
	errs      []*bootstrap.StartupError

	started   atomic.Bool
	cancelled atomic.Bool
	stopped   atomic.Bool
}

func (f *fakeWorker) Name() string { return f.name }

func (f *fakeWorker) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeWorker) Run(ctx context.Context) error {
	defer f.stopped.Store(true)
	if f.exitEarly {
		return errors.New("crashed")
	}
	<-ctx.Done()
	f.cancelled.Store(true)
	time.Sleep(f.linger)
	return nil
}

func (f *fakeWorker) StartupErrors() []*bootstrap.StartupError { return f.errs }

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return kit.MessageRef{}, nil
}

func threeWorkers() []*fakeWorker {
	return []*fakeWorker{{name: "transport"}, {name: "scheduler"}, {name: "http"}}
}

func asWorkers(fs []*fakeWorker) []Worker {
	out := make([]Worker, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func TestShutdownStopsEveryWorker(t *testing.T) {
	fs := threeWorkers()
	fs[1].linger = 120 * time.Millisecond
	var progress bytes.Buffer

	p := New(Options{PollInterval: 20 * time.Millisecond, ShutdownTimeout: 2 * time.Second, Progress: &progress, Log: logx.Nop()}, asWorkers(fs)...)
	require.NoError(t, p.Start(context.Background()))
	for _, f := range fs {
		assert.True(t, f.started.Load(), f.name)
	}
	for _, st := range p.Status() {
		assert.True(t, st.Alive, st.Name)
	}

	require.NoError(t, p.Shutdown(context.Background()))
	for _, f := range fs {
		assert.True(t, f.cancelled.Load(), "%s saw no termination request", f.name)
		assert.True(t, f.stopped.Load(), "%s still running after Shutdown", f.name)
	}
	assert.NotZero(t, progress.Len(), "lingering worker should produce progress ticks")
	assert.Empty(t, p.alive())
}

func TestShutdownTimesOut(t *testing.T) {
	fs := threeWorkers()
	fs[2].linger = time.Second

	p := New(Options{PollInterval: 10 * time.Millisecond, ShutdownTimeout: 50 * time.Millisecond}, asWorkers(fs)...)
	require.NoError(t, p.Start(context.Background()))

	err := p.Shutdown(context.Background())
	require.ErrorIs(t, err, ErrShutdownTimeout)
	assert.Contains(t, err.Error(), "http")
}

func TestStartFailureRollsBack(t *testing.T) {
	fs := threeWorkers()
	fs[1].startErr = errors.New("bad cron")

	p := New(Options{PollInterval: 10 * time.Millisecond}, asWorkers(fs)...)
	err := p.Start(context.Background())
	require.Error(t, err)

	var serr *bootstrap.StartupError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, bootstrap.KindSupervision, serr.Kind)
	assert.Equal(t, "starting scheduler", serr.Context)
	assert.ErrorIs(t, err, bootstrap.ErrWorkerStart)

	assert.True(t, fs[0].cancelled.Load(), "transport should be torn down")
	assert.True(t, fs[0].stopped.Load())
	assert.False(t, fs[2].started.Load(), "http must not start after a failure")
}

func TestStartReportsErrorsOnce(t *testing.T) {
	fs := threeWorkers()
	fs[2].errs = []*bootstrap.StartupError{{Context: "routing Web.index", Kind: bootstrap.KindScheduleRegistration, Err: errors.New("duplicate")}}
	sender := &recordingSender{}
	boot := []*bootstrap.StartupError{{Context: "loading chat.broken", Kind: bootstrap.KindLoad, Err: errors.New("no such file")}}

	p := New(Options{StartupErrors: boot, Sender: sender, DefaultTarget: &kit.ChatTarget{ChatID: 42}}, asWorkers(fs)...)
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Shutdown(context.Background()) }()

	assert.Equal(t, []string{
		SummaryNotice,
		"loading chat.broken: no such file",
		"routing Web.index: duplicate",
	}, sender.sent)
}

func TestNoReportWithoutErrors(t *testing.T) {
	sender := &recordingSender{}
	p := New(Options{Sender: sender, DefaultTarget: &kit.ChatTarget{ChatID: 1}}, asWorkers(threeWorkers())...)
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Shutdown(context.Background()) }()
	assert.Empty(t, sender.sent)
}

func TestCrashedWorkerIsNotRestarted(t *testing.T) {
	fs := threeWorkers()
	fs[0].exitEarly = true
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	p := New(Options{Bus: bus, PollInterval: 10 * time.Millisecond}, asWorkers(fs)...)
	require.NoError(t, p.Start(context.Background()))

	deadline := time.After(2 * time.Second)
	for exited := false; !exited; {
		select {
		case e := <-events:
			exited = e.Type == eventbus.WorkerExited && e.Data == "transport"
		case <-deadline:
			t.Fatal("no exit event for crashed worker")
		}
	}
	require.Eventually(t, func() bool { return !p.Status()[0].Alive }, time.Second, 10*time.Millisecond)
	assert.True(t, p.Status()[1].Alive)
	require.NoError(t, p.Shutdown(context.Background()))
}
