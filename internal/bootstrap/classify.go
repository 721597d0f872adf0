package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"willbot/internal/plugin"
	"willbot/internal/plugin/discovery"
	logx "willbot/pkg/logx"
)

// classifyError carries the kind an operation failure should be recorded as.
type classifyError struct {
	kind Kind
	err  error
}

func (e *classifyError) Error() string { return e.err.Error() }
func (e *classifyError) Unwrap() error { return e.err }

func classificationf(format string, args ...any) error {
	return &classifyError{kind: KindClassification, err: fmt.Errorf(format, args...)}
}

// Classify sorts every operation of every qualifying class into the four
// routing tables. Units are visited in identifier order and classes in
// declared order, so equal inputs yield equal tables.
//
// Failures are isolated per unit, per class and per operation: each is
// appended to errs and the walk continues with the next sibling.
func Classify(units map[string]discovery.Unit, errs *Errors, log logx.Logger) *Tables {
	t := &Tables{}
	for _, name := range discovery.SortedNames(units) {
		u := units[name]
		for _, c := range u.Classes {
			classifyClass(t, u.Name, c, errs, log)
		}
	}
	return t
}

func classifyClass(t *Tables, unit string, c plugin.Class, errs *Errors, log logx.Logger) {
	label := "bootstrapping " + c.Name
	var ops []plugin.Operation
	var p plugin.Plugin

	err := guard(func() error {
		var ok bool
		p, ok = qualify(c.Value)
		if !ok {
			return nil
		}
		b := plugin.NewBuilder()
		if err := p.Capabilities(b); err != nil {
			return err
		}
		for _, derr := range b.Errs() {
			errs.Add(KindClassification, label, derr)
		}
		ops = b.Operations()
		return nil
	})
	if err != nil {
		errs.Add(KindClassification, label, err)
		log.Warn("plugin class failed", logx.String("unit", unit), logx.String("class", c.Name), logx.Err(err))
		return
	}
	if p == nil {
		return
	}

	owner := Owner{Unit: unit, Class: c.Name, Plugin: p}
	log.Debug("plugin class", logx.String("unit", unit), logx.String("class", c.Name), logx.Int("operations", len(ops)))
	for _, op := range ops {
		if err := guard(func() error { return classifyOp(t, owner, op, log) }); err != nil {
			kind := KindClassification
			var ce *classifyError
			if errors.As(err, &ce) {
				kind = ce.kind
			}
			errs.Add(kind, label+"."+op.Name, err)
			log.Warn("plugin operation failed", logx.String("class", c.Name), logx.String("op", op.Name), logx.Err(err))
		}
	}
}

// qualify reports whether v is a plugin class: it carries the marker, the
// marker answers true, and v is not the abstract base itself. Marked values
// without a Capabilities method qualify with no operations.
func qualify(v any) (plugin.Plugin, bool) {
	switch v.(type) {
	case nil, plugin.Base, *plugin.Base:
		return nil, false
	}
	m, ok := v.(plugin.Marker)
	if !ok || !m.WillPlugin() {
		return nil, false
	}
	if p, ok := v.(plugin.Plugin); ok {
		return p, true
	}
	return markerOnly{m}, true
}

type markerOnly struct{ plugin.Marker }

func (markerOnly) Capabilities(*plugin.Builder) error { return nil }

func classifyOp(t *Tables, owner Owner, op plugin.Operation, log logx.Logger) error {
	tags := op.Tags
	switch {
	case tags.ListensToMessages:
		d, err := listenerDescriptor(owner, op)
		if err != nil {
			return err
		}
		t.Listeners = append(t.Listeners, d)
		if d.IncludeMe {
			t.SomeListenersIncludeMe = true
		}
		log.Debug("listener", logx.String("class", owner.Class), logx.String("op", op.Name), logx.String("pattern", d.Pattern))

	case tags.PeriodicTask:
		fn, ok := asTask(op.Handler)
		if !ok {
			return classificationf("periodic task handler has type %T, want plugin.TaskFunc", op.Handler)
		}
		if len(tags.SchedArgs) == 0 && len(tags.SchedKwargs) == 0 {
			return &classifyError{kind: KindScheduleRegistration, err: fmt.Errorf("%w: periodic task has no schedule arguments", ErrMissingParameter)}
		}
		t.Periodic = append(t.Periodic, PeriodicTaskDescriptor{
			Owner:     owner,
			Operation: op.Name,
			Args:      append([]string(nil), tags.SchedArgs...),
			Kwargs:    copyKwargs(tags.SchedKwargs),
			Fn:        fn,
		})
		log.Debug("periodic task", logx.String("class", owner.Class), logx.String("op", op.Name))

	case tags.RandomTask:
		d, err := randomDescriptor(owner, op)
		if err != nil {
			return err
		}
		t.Random = append(t.Random, d)
		log.Debug("random task", logx.String("class", owner.Class), logx.String("op", op.Name))

	case tags.Route != nil:
		h, ok := asHandler(op.Handler)
		if !ok {
			return classificationf("route handler has type %T, want plugin.RouteFunc or http.Handler", op.Handler)
		}
		t.Routes = append(t.Routes, RouteDescriptor{Owner: owner, Operation: op.Name, Route: *tags.Route, Handler: h})
		log.Debug("route", logx.String("class", owner.Class), logx.String("op", op.Name), logx.String("route", tags.Route.String()))
	}
	return nil
}

func listenerDescriptor(owner Owner, op plugin.Operation) (ListenerDescriptor, error) {
	tags := op.Tags
	var missing []string
	if tags.ListenerRegex == nil {
		missing = append(missing, "listener_regex")
	}
	if tags.CaseSensitive == nil {
		missing = append(missing, "case_sensitive")
	}
	if tags.IncludesMe == nil {
		missing = append(missing, "listener_includes_me")
	}
	if tags.DirectMentionsOnly == nil {
		missing = append(missing, "listens_only_to_direct_mentions")
	}
	if len(missing) > 0 {
		return ListenerDescriptor{}, classificationf("listener metadata incomplete: missing %s", strings.Join(missing, ", "))
	}
	fn, ok := op.Handler.(plugin.ListenerFunc)
	if !ok {
		if f, ok2 := op.Handler.(func(ctx context.Context, ev *plugin.Event) error); ok2 {
			fn, ok = f, true
		}
	}
	if !ok || fn == nil {
		return ListenerDescriptor{}, classificationf("listener handler has type %T, want plugin.ListenerFunc", op.Handler)
	}

	re, err := CompilePattern(*tags.ListenerRegex, *tags.CaseSensitive)
	if err != nil {
		return ListenerDescriptor{}, classificationf("compile pattern %q: %w", *tags.ListenerRegex, err)
	}
	groups := map[string]bool{}
	for _, n := range re.SubexpNames() {
		if n != "" {
			groups[n] = true
		}
	}
	for _, a := range tags.ListenerArgs {
		if !groups[a] {
			return ListenerDescriptor{}, classificationf("declared arg %q is not a named group of %q", a, *tags.ListenerRegex)
		}
	}

	return ListenerDescriptor{
		Owner:              owner,
		Operation:          op.Name,
		Pattern:            *tags.ListenerRegex,
		Regexp:             re,
		CaseSensitive:      *tags.CaseSensitive,
		Args:               append([]string(nil), tags.ListenerArgs...),
		IncludeMe:          *tags.IncludesMe,
		DirectMentionsOnly: *tags.DirectMentionsOnly,
		Fn:                 fn,
	}, nil
}

// randomDescriptor forwards the four parameters unchanged; ranges are the
// scheduler's concern.
func randomDescriptor(owner Owner, op plugin.Operation) (RandomTaskDescriptor, error) {
	tags := op.Tags
	var missing []string
	if tags.StartHour == nil {
		missing = append(missing, "start_hour")
	}
	if tags.EndHour == nil {
		missing = append(missing, "end_hour")
	}
	if tags.DayOfWeek == nil {
		missing = append(missing, "day_of_week")
	}
	if tags.NumTimesPerDay == nil {
		missing = append(missing, "num_times_per_day")
	}
	if len(missing) > 0 {
		return RandomTaskDescriptor{}, &classifyError{
			kind: KindScheduleRegistration,
			err:  fmt.Errorf("%w: random task missing %s", ErrMissingParameter, strings.Join(missing, ", ")),
		}
	}
	fn, ok := asTask(op.Handler)
	if !ok {
		return RandomTaskDescriptor{}, classificationf("random task handler has type %T, want plugin.TaskFunc", op.Handler)
	}
	return RandomTaskDescriptor{
		Owner:          owner,
		Operation:      op.Name,
		StartHour:      *tags.StartHour,
		EndHour:        *tags.EndHour,
		DayOfWeek:      *tags.DayOfWeek,
		NumTimesPerDay: *tags.NumTimesPerDay,
		Fn:             fn,
	}, nil
}

func asTask(h any) (plugin.TaskFunc, bool) {
	switch f := h.(type) {
	case plugin.TaskFunc:
		return f, f != nil
	case func(ctx context.Context) error:
		return f, f != nil
	}
	return nil, false
}

func asHandler(h any) (http.Handler, bool) {
	switch f := h.(type) {
	case plugin.RouteFunc:
		return http.HandlerFunc(f), f != nil
	case func(http.ResponseWriter, *http.Request):
		return http.HandlerFunc(f), f != nil
	case http.Handler:
		return f, f != nil
	}
	return nil, false
}

func copyKwargs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
