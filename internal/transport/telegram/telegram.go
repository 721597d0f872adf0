// Package telegram is the Telegram long-poll transport.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "willbot/internal/runtime/supervisor"
	"willbot/internal/transport"
	logx "willbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter connects to the Bot API on Start. Messages are normalized to
// transport.Message with IsDirect and FromSelf resolved against the bot's
// own account.
type Adapter struct {
	cfg Config
	log logx.Logger

	runMu   sync.Mutex
	running bool
	bot     *tele.Bot
	me      *tele.User
	sup     *rtsup.Supervisor

	out atomic.Value // stores (chan<- transport.Message)

	droppedUpdates uint64
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Start authenticates (getMe) and begins long polling. It returns once the
// bot identity is known, so a bad token fails Start.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  a.cfg.Token,
		Poller: &tele.LongPoller{Timeout: a.cfg.PollTimeout},
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return err
	}
	a.bot = b
	a.me = b.Me
	a.registerHandlers()
	a.out.Store(out)
	a.running = true

	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		b.Stop()
	})
	// Start blocks until Stop; restart it if it returns on its own.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", b.Me.Username))
		b.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		a.deliver(normalize(m, a.me))
		return nil
	})
}

func (a *Adapter) deliver(msg transport.Message) {
	out, _ := a.out.Load().(chan<- transport.Message)
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

// normalize maps a telebot message onto transport.Message. me may be nil
// before the identity is known.
func normalize(m *tele.Message, me *tele.User) transport.Message {
	msg := transport.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
		msg.IsGroup = m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	if me == nil {
		msg.IsDirect = m.Private()
		return msg
	}
	msg.FromSelf = m.Sender != nil && m.Sender.ID == me.ID
	msg.IsDirect = m.Private() || mentions(m, me.Username) || repliesTo(m, me.ID)
	return msg
}

func mentions(m *tele.Message, username string) bool {
	if username == "" {
		return false
	}
	want := "@" + strings.ToLower(username)
	for _, e := range m.Entities {
		if e.Type == tele.EntityMention && strings.ToLower(m.EntityText(e)) == want {
			return true
		}
	}
	return false
}

func repliesTo(m *tele.Message, id int64) bool {
	return m.ReplyTo != nil && m.ReplyTo.Sender != nil && m.ReplyTo.Sender.ID == id
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	bot := a.bot
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_pending", atomic.LoadUint64(&a.droppedUpdates)))
	sup.Cancel()
	if bot != nil {
		go bot.Stop()
	}

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// Alive reports whether the poll loop goroutines are still running.
func (a *Adapter) Alive() bool {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup != nil && a.sup.Alive()
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	a.runMu.Lock()
	bot := a.bot
	a.runMu.Unlock()
	if bot == nil {
		return transport.MessageRef{}, errors.New("telegram adapter not started")
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}

	chunks := splitText(text, textLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sent, err := bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: sent.ID}
		}
	}
	return first, nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts. It prefers
// newline boundaries and, in HTML mode, avoids cutting inside a tag.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
