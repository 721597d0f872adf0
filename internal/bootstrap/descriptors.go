package bootstrap

import (
	"net/http"
	"regexp"

	"willbot/internal/plugin"
)

// Owner identifies where a capability came from.
type Owner struct {
	Unit   string
	Class  string
	Plugin plugin.Plugin
}

func (o Owner) String() string { return o.Unit + "." + o.Class }

type ListenerDescriptor struct {
	Owner     Owner
	Operation string
	// Pattern is the raw pattern as declared, without the (?i) prefix.
	Pattern            string
	Regexp             *regexp.Regexp
	CaseSensitive      bool
	Args               []string
	IncludeMe          bool
	DirectMentionsOnly bool
	Fn                 plugin.ListenerFunc
}

type PeriodicTaskDescriptor struct {
	Owner     Owner
	Operation string
	Args      []string
	Kwargs    map[string]string
	Fn        plugin.TaskFunc
}

type RandomTaskDescriptor struct {
	Owner          Owner
	Operation      string
	StartHour      int
	EndHour        int
	DayOfWeek      string
	NumTimesPerDay int
	Fn             plugin.TaskFunc
}

type RouteDescriptor struct {
	Owner     Owner
	Operation string
	Route     plugin.RouteSpec
	Handler   http.Handler
}

// Tables are the four routing tables of one bootstrap cycle. They are built
// once and only read afterwards.
type Tables struct {
	Listeners []ListenerDescriptor
	Periodic  []PeriodicTaskDescriptor
	Random    []RandomTaskDescriptor
	Routes    []RouteDescriptor
	// SomeListenersIncludeMe is true if any listener wants the bot's own messages.
	SomeListenersIncludeMe bool
}

// Count returns the total number of descriptors.
func (t *Tables) Count() int {
	return len(t.Listeners) + len(t.Periodic) + len(t.Random) + len(t.Routes)
}

// CompilePattern builds the matcher for a listener pattern. Matching is
// case-insensitive unless caseSensitive is set.
func CompilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
