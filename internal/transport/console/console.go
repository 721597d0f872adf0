// Package console is a line-oriented transport over a reader and a writer,
// for running the bot locally against stdin/stdout.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"willbot/internal/transport"
	logx "willbot/pkg/logx"
)

// ChatID is the single chat every console message belongs to.
const ChatID int64 = 1

type Config struct {
	// Username is reported as the author of typed lines.
	Username string
	// Direct marks every typed line as addressed to the bot.
	Direct bool
}

type Adapter struct {
	cfg Config
	in  io.Reader
	log logx.Logger

	wmu sync.Mutex
	w   io.Writer

	nextID  atomic.Int64
	stop    context.CancelFunc
	stopped chan struct{}
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, in io.Reader, out io.Writer, log logx.Logger) *Adapter {
	if cfg.Username == "" {
		cfg.Username = "operator"
	}
	return &Adapter{cfg: cfg, in: in, w: out, log: log}
}

func (a *Adapter) Name() string { return "console" }

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	ctx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	a.stopped = make(chan struct{})

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.log.Warn("console read failed", logx.Err(err))
		}
		close(lines)
	}()

	go func() {
		defer close(a.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					a.log.Info("console input closed")
					return
				}
				text := strings.TrimSpace(line)
				if text == "" {
					continue
				}
				msg := transport.Message{
					ID:           int(a.nextID.Add(1)),
					ChatID:       ChatID,
					FromID:       2,
					FromUsername: a.cfg.Username,
					Text:         text,
					IsDirect:     a.cfg.Direct,
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	if a.stop == nil {
		return nil
	}
	a.stop()
	select {
	case <-a.stopped:
	case <-ctx.Done():
	}
	return nil
}

func (a *Adapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	if _, err := fmt.Fprintf(a.w, "[%s] %s\n", to, text); err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: int(a.nextID.Add(1))}, nil
}
