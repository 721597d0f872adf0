package plugin

import (
	"fmt"
	"net/http"
	"strings"
)

// Tags is the metadata attached to one operation. A field left nil is
// absent, which is distinct from its zero value: the classifier rejects a
// listener whose flags are absent but accepts explicit false.
type Tags struct {
	// listener
	ListensToMessages  bool
	ListenerRegex      *string
	CaseSensitive      *bool
	ListenerArgs       []string
	IncludesMe         *bool
	DirectMentionsOnly *bool

	// periodic task
	PeriodicTask bool
	SchedArgs    []string
	SchedKwargs  map[string]string

	// random task
	RandomTask     bool
	StartHour      *int
	EndHour        *int
	DayOfWeek      *string
	NumTimesPerDay *int

	// http route
	Route *RouteSpec
}

// RouteSpec is forwarded unchanged to the HTTP server.
type RouteSpec struct {
	Method string
	Path   string
}

func (r RouteSpec) String() string {
	m := strings.ToUpper(strings.TrimSpace(r.Method))
	if m == "" {
		m = http.MethodGet
	}
	return m + " " + r.Path
}

// Operation is one callable capability of a plugin class.
type Operation struct {
	Name    string
	Tags    Tags
	Handler any
}

// Schedule carries periodic task arguments verbatim to the scheduler.
type Schedule struct {
	Args   []string
	Kwargs map[string]string
}

// Window carries random task parameters verbatim to the scheduler.
type Window struct {
	StartHour      int
	EndHour        int
	DayOfWeek      string
	NumTimesPerDay int
}

// Builder collects the operations a plugin declares.
type Builder struct {
	ops  []Operation
	seen map[string]struct{}
	errs []error
}

func NewBuilder() *Builder {
	return &Builder{seen: map[string]struct{}{}}
}

// Declare records a raw operation. Typed helpers (Listen, Periodic, Random,
// Route) are preferred; Declare exists for operations whose tags are built
// elsewhere, e.g. from a manifest.
func (b *Builder) Declare(op Operation) *Builder {
	name := strings.TrimSpace(op.Name)
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("operation name is empty"))
		return b
	}
	if _, dup := b.seen[name]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate operation %q", name))
		return b
	}
	b.seen[name] = struct{}{}
	op.Name = name
	b.ops = append(b.ops, op)
	return b
}

// ListenOption adjusts listener tags.
type ListenOption func(*Tags)

// CaseSensitive disables the default case-insensitive matching.
func CaseSensitive() ListenOption {
	return func(t *Tags) { t.CaseSensitive = Ptr(true) }
}

// IncludeMe lets the listener see messages authored by the bot itself.
func IncludeMe() ListenOption {
	return func(t *Tags) { t.IncludesMe = Ptr(true) }
}

// DirectMentionsOnly restricts the listener to messages addressed to the bot.
func DirectMentionsOnly() ListenOption {
	return func(t *Tags) { t.DirectMentionsOnly = Ptr(true) }
}

// Args names the regex groups passed to the handler in Event.Args.
func Args(names ...string) ListenOption {
	return func(t *Tags) { t.ListenerArgs = append([]string(nil), names...) }
}

func (b *Builder) Listen(name, pattern string, fn ListenerFunc, opts ...ListenOption) *Builder {
	t := Tags{
		ListensToMessages:  true,
		ListenerRegex:      Ptr(pattern),
		CaseSensitive:      Ptr(false),
		IncludesMe:         Ptr(false),
		DirectMentionsOnly: Ptr(false),
	}
	for _, o := range opts {
		o(&t)
	}
	return b.Declare(Operation{Name: name, Tags: t, Handler: fn})
}

func (b *Builder) Periodic(name string, s Schedule, fn TaskFunc) *Builder {
	return b.Declare(Operation{Name: name, Tags: Tags{
		PeriodicTask: true,
		SchedArgs:    s.Args,
		SchedKwargs:  s.Kwargs,
	}, Handler: fn})
}

func (b *Builder) Random(name string, w Window, fn TaskFunc) *Builder {
	return b.Declare(Operation{Name: name, Tags: Tags{
		RandomTask:     true,
		StartHour:      Ptr(w.StartHour),
		EndHour:        Ptr(w.EndHour),
		DayOfWeek:      Ptr(w.DayOfWeek),
		NumTimesPerDay: Ptr(w.NumTimesPerDay),
	}, Handler: fn})
}

func (b *Builder) Route(name string, r RouteSpec, fn RouteFunc) *Builder {
	return b.Declare(Operation{Name: name, Tags: Tags{Route: &r}, Handler: fn})
}

// Operations returns the declared operations in declaration order.
func (b *Builder) Operations() []Operation {
	return append([]Operation(nil), b.ops...)
}

// Errs returns declaration errors (empty or duplicate names).
func (b *Builder) Errs() []error { return b.errs }

func Ptr[T any](v T) *T { return &v }
