// Package worker holds what the transport, scheduler and HTTP workers share:
// guarded plugin calls and invocation bookkeeping.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"willbot/internal/bootstrap"
	"willbot/internal/eventbus"
	"willbot/internal/storage"
	logx "willbot/pkg/logx"
)

// Invocation describes one plugin call.
type Invocation struct {
	Kind      string // storage.Audit* kind
	Owner     bootstrap.Owner
	Operation string
	ActorID   int64
	ChatID    int64
	ThreadID  int
}

// Fired is the event payload published after every invocation.
type Fired struct {
	Invocation
	Took time.Duration
	Err  error
}

// SafeCall runs fn and converts a panic into an error.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

// Recorder logs, publishes and audits finished invocations. Every field is
// optional.
type Recorder struct {
	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
}

func (r Recorder) Done(ctx context.Context, inv Invocation, took time.Duration, err error) {
	fields := []logx.Field{
		logx.String("kind", inv.Kind),
		logx.String("owner", inv.Owner.String()),
		logx.String("op", inv.Operation),
		logx.Duration("took", took),
	}
	if err != nil {
		r.Log.Warn("plugin call failed", append(fields, logx.Err(err))...)
	} else {
		r.Log.Debug("plugin call done", fields...)
	}

	if r.Bus != nil {
		typ := eventbus.TaskFired
		if inv.Kind == storage.AuditListener {
			typ = eventbus.ListenerFired
		}
		r.Bus.Publish(eventbus.Event{Type: typ, Data: Fired{Invocation: inv, Took: took, Err: err}})
	}

	if r.Store == nil {
		return
	}
	e := storage.AuditEntry{
		Kind:      inv.Kind,
		Owner:     inv.Owner.String(),
		Operation: inv.Operation,
		ActorID:   inv.ActorID,
		ChatID:    inv.ChatID,
		ThreadID:  inv.ThreadID,
		OK:        err == nil,
		TookMS:    took.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := r.Store.AppendAudit(actx, e); aerr != nil {
		r.Log.Debug("audit append failed", logx.Err(aerr))
	}
}
