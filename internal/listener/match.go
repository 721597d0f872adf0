// Package listener applies the listener table to inbound messages.
package listener

import (
	"willbot/internal/bootstrap"
	"willbot/internal/transport"
)

// Hit is one listener that matched a message.
type Hit struct {
	Listener *bootstrap.ListenerDescriptor
	// Groups is the submatch list; Groups[0] is the whole match.
	Groups []string
	// Args binds the listener's declared argument names to their named groups.
	Args map[string]string
}

// Match returns every listener that fires for msg, in table order. All
// matches are returned; there is no first-match-wins.
func Match(msg transport.Message, listeners []bootstrap.ListenerDescriptor) []Hit {
	var hits []Hit
	for i := range listeners {
		l := &listeners[i]
		if l.DirectMentionsOnly && !msg.IsDirect {
			continue
		}
		if msg.FromSelf && !l.IncludeMe {
			continue
		}
		if l.Regexp == nil {
			continue
		}
		groups := l.Regexp.FindStringSubmatch(msg.Text)
		if groups == nil {
			continue
		}
		hits = append(hits, Hit{Listener: l, Groups: groups, Args: bindArgs(l, groups)})
	}
	return hits
}

// ShouldEvaluate reports whether msg needs to be matched at all. Messages
// the bot wrote itself are skipped unless some listener asked for them.
func ShouldEvaluate(msg transport.Message, t *bootstrap.Tables) bool {
	if t == nil || len(t.Listeners) == 0 {
		return false
	}
	return !msg.FromSelf || t.SomeListenersIncludeMe
}

func bindArgs(l *bootstrap.ListenerDescriptor, groups []string) map[string]string {
	if len(l.Args) == 0 {
		return nil
	}
	names := l.Regexp.SubexpNames()
	out := make(map[string]string, len(l.Args))
	for _, a := range l.Args {
		for i, n := range names {
			if n == a && i < len(groups) {
				out[a] = groups[i]
				break
			}
		}
	}
	return out
}
