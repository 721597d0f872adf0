package bootstrap

import (
	"errors"
	"fmt"
	"sync"

	logx "willbot/pkg/logx"
)

// Kind classifies a startup error.
type Kind int

const (
	// KindLoad: a plugin unit could not be loaded.
	KindLoad Kind = iota + 1
	// KindClassification: a class or operation could not be inspected.
	KindClassification
	// KindScheduleRegistration: a task could not be handed to the scheduler.
	KindScheduleRegistration
	// KindSupervision: a worker failed to start. This kind aborts startup.
	KindSupervision
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindClassification:
		return "classification"
	case KindScheduleRegistration:
		return "schedule_registration"
	case KindSupervision:
		return "supervision"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	ErrLoad             = errors.New("plugin load failed")
	ErrClassification   = errors.New("capability classification failed")
	ErrScheduleRegister = errors.New("schedule registration failed")
	ErrMissingParameter = errors.New("missing task parameter")
	ErrWorkerStart      = errors.New("worker failed to start")
)

// StartupError is one recorded failure. Context names the failing unit,
// class or operation ("loading chat.hello", "bootstrapping Hello.greet").
type StartupError struct {
	Context string
	Kind    Kind
	Err     error
}

func (e *StartupError) Error() string {
	if e.Err == nil {
		return e.Context
	}
	return e.Context + ": " + e.Err.Error()
}

func (e *StartupError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's kind.
func (e *StartupError) Is(target error) bool {
	switch target {
	case ErrLoad:
		return e.Kind == KindLoad
	case ErrClassification:
		return e.Kind == KindClassification
	case ErrScheduleRegister:
		return e.Kind == KindScheduleRegistration
	case ErrWorkerStart:
		return e.Kind == KindSupervision
	}
	return false
}

// Errors is the append-only startup error list. Items returns a copy.
type Errors struct {
	mu      sync.Mutex
	items   []*StartupError
	frozen  bool
	dropped int
	log     logx.Logger
}

// Add records one error and reports whether it was kept. Once the list is
// frozen nothing is kept: the drop is counted and logged as an error.
func (l *Errors) Add(kind Kind, context string, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		l.dropped++
		if !l.log.IsZero() {
			l.log.Error("startup error added after freeze", logx.String("context", context), logx.Err(err))
		}
		return false
	}
	l.items = append(l.items, &StartupError{Context: context, Kind: kind, Err: err})
	return true
}

// Dropped counts Add calls rejected after Freeze.
func (l *Errors) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Freeze ends the bootstrap phase.
func (l *Errors) Freeze() {
	l.mu.Lock()
	l.frozen = true
	l.mu.Unlock()
}

func (l *Errors) Items() []*StartupError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*StartupError(nil), l.items...)
}

func (l *Errors) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
