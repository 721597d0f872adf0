// Package echo repeats text back to the chat it came from.
package echo

import (
	"context"
	"encoding/json"
	"strings"

	"willbot/internal/plugin"
)

type Config struct {
	Prefix string `json:"prefix"`
}

type Plugin struct {
	plugin.Base
	cfg Config
}

func init() {
	plugin.RegisterFactory("echo", New)
}

func New(raw json.RawMessage) (any, error) {
	p := &Plugin{}
	if err := plugin.Decode(raw, &p.cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) Capabilities(b *plugin.Builder) error {
	b.Listen("echo", `^echo\s+(?P<text>.+)$`, p.echo, plugin.Args("text"))
	b.Listen("upper", `^shout\s+(?P<text>.+)$`, p.transform(strings.ToUpper), plugin.Args("text"))
	b.Listen("lower", `^whisper\s+(?P<text>.+)$`, p.transform(strings.ToLower), plugin.Args("text"))
	return nil
}

func (p *Plugin) echo(ctx context.Context, ev *plugin.Event) error {
	txt := strings.TrimSpace(ev.Args["text"])
	if txt == "" {
		txt = "(empty)"
	}
	return ev.Reply(ctx, p.cfg.Prefix+txt)
}

func (p *Plugin) transform(fn func(string) string) plugin.ListenerFunc {
	return func(ctx context.Context, ev *plugin.Event) error {
		return ev.Reply(ctx, p.cfg.Prefix+fn(ev.Args["text"]))
	}
}
