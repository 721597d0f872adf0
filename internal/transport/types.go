package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Message is an inbound chat message, normalized across transports.
//
// IsDirect is set when the bot is addressed directly: a private chat, an
// explicit @mention of the bot, or a reply to one of the bot's messages.
// FromSelf is set when the bot itself authored the message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
	IsDirect     bool
	FromSelf     bool
}

// Target returns the chat target a reply to m should go to.
func (m Message) Target() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return fmt.Sprintf("%d/%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseChatTarget parses "<chat_id>" or "<chat_id>/<thread_id>".
func ParseChatTarget(raw string) (ChatTarget, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ChatTarget{}, fmt.Errorf("chat target is empty")
	}
	chat, thread, hasThread := strings.Cut(s, "/")
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q: %w", chat, err)
	}
	t := ChatTarget{ChatID: id}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || tid < 0 {
			return ChatTarget{}, fmt.Errorf("invalid thread id %q", thread)
		}
		t.ThreadID = tid
	}
	return t, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers outbound text. Implementations must be safe for concurrent use.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a chat protocol client.
//
// Start connects and returns once the adapter is ready to deliver messages on
// out; delivery continues in the background until Stop or ctx cancellation.
type Adapter interface {
	Sender
	Name() string
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}
