package sdnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"

	logx "willbot/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestLifecycleStates(t *testing.T) {
	rec := &recorder{}
	n := &Notifier{log: logx.Nop(), notify: rec.notify}
	n.Ready()
	n.Status("3 workers")
	n.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, "STATUS=3 workers", daemon.SdNotifyStopping}, rec.states)
}

func TestWatchdogDisabledReturns(t *testing.T) {
	n := &Notifier{log: logx.Nop(), notify: (&recorder{}).notify, watchdog: func() (time.Duration, error) { return 0, nil }}
	done := make(chan struct{})
	go func() { n.Watchdog(context.Background(), nil); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog should return when disabled")
	}

	n.watchdog = func() (time.Duration, error) { return 0, errors.New("bad WATCHDOG_USEC") }
	n.Watchdog(context.Background(), nil)
}

func TestWatchdogPingsWhileHealthy(t *testing.T) {
	rec := &recorder{}
	n := &Notifier{log: logx.Nop(), notify: rec.notify, watchdog: func() (time.Duration, error) { return 20 * time.Millisecond, nil }}

	var mu sync.Mutex
	healthy := true
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx, func() bool { mu.Lock(); defer mu.Unlock(); return healthy })
		close(done)
	}()

	assert.Eventually(t, func() bool { return rec.count(daemon.SdNotifyWatchdog) >= 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	healthy = false
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	before := rec.count(daemon.SdNotifyWatchdog)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, before, rec.count(daemon.SdNotifyWatchdog))

	cancel()
	<-done
}
