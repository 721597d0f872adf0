// Package sdnotify reports the bot's lifecycle to systemd when it runs as a
// Type=notify unit. Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "willbot/pkg/logx"
)

// notifyFunc matches daemon.SdNotify.
type notifyFunc func(unsetEnvironment bool, state string) (bool, error)

type Notifier struct {
	log    logx.Logger
	notify notifyFunc
	// watchdog returns the WatchdogSec interval, or 0 when disabled.
	watchdog func() (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:    log.With(logx.String("comp", "sdnotify")),
		notify: daemon.SdNotify,
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) send(state string) bool {
	ok, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

// Ready signals that every worker has started.
func (n *Notifier) Ready() {
	if n.send(daemon.SdNotifyReady) {
		n.log.Debug("notified systemd: ready")
	}
}

// Stopping signals that shutdown has begun.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Status sets the free-form unit status line shown by systemctl.
func (n *Notifier) Status(text string) {
	n.send("STATUS=" + text)
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx ends.
// healthy is consulted before every ping; a false result skips the ping so
// systemd restarts a wedged process. It returns immediately when the
// watchdog is not enabled for this unit.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() bool) {
	interval, err := n.watchdog()
	if err != nil {
		n.log.Warn("watchdog lookup failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := interval / 2
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", tick))

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("skipping watchdog ping: unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
