package plugin

import (
	"context"
	"errors"
	"net/http"

	"willbot/internal/transport"
)

// Marker is carried by every type that wants to be treated as a plugin.
type Marker interface {
	WillPlugin() bool
}

// Plugin is a capability provider: a marked type that enumerates its
// operations into a Builder.
type Plugin interface {
	Marker
	Capabilities(b *Builder) error
}

// Base is the abstract plugin base. Embed it to mark a type as a plugin:
//
//	type Hello struct{ plugin.Base }
//	func (h *Hello) Capabilities(b *plugin.Builder) error {
//		b.Listen("greet", `^hello\b`, h.greet)
//		return nil
//	}
//
// Base itself is never classified.
type Base struct{}

func (Base) WillPlugin() bool { return true }

// Say sends text to the bot's default channel.
func (Base) Say(ctx context.Context, text string) error {
	out, ok := outboundFrom(ctx)
	if !ok || out.sender == nil {
		return ErrNoSender
	}
	if out.defaultTarget == nil {
		return ErrNoDefaultChannel
	}
	_, err := out.sender.SendText(ctx, *out.defaultTarget, text, nil)
	return err
}

// Class is one member exposed by a loaded plugin unit.
type Class struct {
	Name  string
	Value any
}

var (
	ErrNoSender         = errors.New("no sender in context")
	ErrNoDefaultChannel = errors.New("no default channel configured")
)

// ListenerFunc handles a message that matched a listener.
type ListenerFunc func(ctx context.Context, ev *Event) error

// TaskFunc is invoked by the scheduler for periodic and random tasks.
type TaskFunc func(ctx context.Context) error

// RouteFunc serves an HTTP route.
type RouteFunc func(w http.ResponseWriter, r *http.Request)

// Event is the message context handed to a listener.
type Event struct {
	Message transport.Message
	// Groups holds the full submatch list; Groups[0] is the whole match.
	Groups []string
	// Args binds the listener's declared argument names to named groups.
	Args map[string]string

	sender transport.Sender
}

func NewEvent(msg transport.Message, groups []string, args map[string]string, sender transport.Sender) *Event {
	return &Event{Message: msg, Groups: groups, Args: args, sender: sender}
}

// Reply sends text to the chat (and thread) the message came from.
func (e *Event) Reply(ctx context.Context, text string) error {
	if e.sender == nil {
		return ErrNoSender
	}
	_, err := e.sender.SendText(ctx, e.Message.Target(), text, nil)
	return err
}
