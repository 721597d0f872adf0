// Package hello greets people and, a few times a day, says hi unprompted.
package hello

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"willbot/internal/plugin"
)

type Config struct {
	Greetings []string `json:"greetings"`
	// Window bounds the unprompted greetings; zero values use 9-17 on weekdays, twice.
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Days      string `json:"days"`
	Times     int    `json:"times"`
}

type Plugin struct {
	plugin.Base
	cfg Config
}

func init() {
	plugin.RegisterFactory("hello", New)
}

func New(raw json.RawMessage) (any, error) {
	p := &Plugin{cfg: Config{
		Greetings: []string{"hi", "hello", "hey there"},
		StartHour: 9,
		EndHour:   17,
		Days:      "mon-fri",
		Times:     2,
	}}
	if err := plugin.Decode(raw, &p.cfg); err != nil {
		return nil, err
	}
	if len(p.cfg.Greetings) == 0 {
		return nil, fmt.Errorf("greetings must not be empty")
	}
	return p, nil
}

func (p *Plugin) Capabilities(b *plugin.Builder) error {
	b.Listen("greet", `^(hi|hello|hey)\b`, p.greet)
	b.Listen("greet_name", `^my name is (?P<name>\w+)`, p.greetName, plugin.Args("name"), plugin.DirectMentionsOnly())
	b.Random("wave", plugin.Window{
		StartHour:      p.cfg.StartHour,
		EndHour:        p.cfg.EndHour,
		DayOfWeek:      p.cfg.Days,
		NumTimesPerDay: p.cfg.Times,
	}, p.wave)
	return nil
}

func (p *Plugin) pick() string {
	return p.cfg.Greetings[rand.IntN(len(p.cfg.Greetings))]
}

func (p *Plugin) greet(ctx context.Context, ev *plugin.Event) error {
	who := ev.Message.FromUsername
	if who == "" {
		return ev.Reply(ctx, p.pick())
	}
	return ev.Reply(ctx, p.pick()+", "+who)
}

func (p *Plugin) greetName(ctx context.Context, ev *plugin.Event) error {
	return ev.Reply(ctx, fmt.Sprintf("nice to meet you, %s", ev.Args["name"]))
}

func (p *Plugin) wave(ctx context.Context) error {
	return p.Say(ctx, p.pick()+" 👋")
}
