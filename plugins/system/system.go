// Package system answers health questions about the running bot: ping,
// uptime and runtime stats, over chat and HTTP.
package system

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"willbot/internal/plugin"
	kit "willbot/internal/transport"
)

type Config struct {
	// Heartbeat, if set, posts uptime to the default channel on this
	// schedule (cron, @every, duration or HH:MM).
	Heartbeat string `json:"heartbeat"`
}

type Plugin struct {
	plugin.Base
	cfg       Config
	startedAt time.Time
}

func init() {
	plugin.RegisterFactory("system", New)
}

func New(raw json.RawMessage) (any, error) {
	p := &Plugin{startedAt: time.Now()}
	if err := plugin.Decode(raw, &p.cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) Capabilities(b *plugin.Builder) error {
	b.Listen("ping", `^(ping|health)$`, p.ping, plugin.DirectMentionsOnly())
	b.Listen("uptime", `^(uptime|up)$`, p.uptime, plugin.DirectMentionsOnly())
	b.Listen("sysinfo", `^sysinfo$`, p.sysinfo, plugin.DirectMentionsOnly())
	b.Route("health", plugin.RouteSpec{Method: http.MethodGet, Path: "/system/health"}, p.health)
	if s := strings.TrimSpace(p.cfg.Heartbeat); s != "" {
		b.Periodic("heartbeat", plugin.Schedule{Args: []string{s}}, p.heartbeat)
	}
	return nil
}

func (p *Plugin) ping(ctx context.Context, ev *plugin.Event) error {
	return ev.Reply(ctx, "pong")
}

func (p *Plugin) uptime(ctx context.Context, ev *plugin.Event) error {
	return ev.Reply(ctx, "uptime: "+durRel(time.Since(p.startedAt)))
}

func (p *Plugin) sysinfo(ctx context.Context, ev *plugin.Event) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mod := ""
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		mod = bi.Main.Path + " " + bi.Main.Version
	}
	msg := strings.Join([]string{
		"sysinfo",
		"- go: " + runtime.Version(),
		"- module: " + mod,
		fmt.Sprintf("- goroutines: %d", runtime.NumGoroutine()),
		"- mem_alloc: " + fmtBytes(m.Alloc),
		"- mem_sys: " + fmtBytes(m.Sys),
	}, "\n")

	sender, ok := plugin.SenderFrom(ctx)
	if !ok {
		return ev.Reply(ctx, msg)
	}
	_, err := sender.SendText(ctx, ev.Message.Target(), msg, &kit.SendOptions{DisablePreview: true})
	return err
}

func (p *Plugin) heartbeat(ctx context.Context) error {
	return p.Say(ctx, "still here, up "+durRel(time.Since(p.startedAt)))
}

type healthBody struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
}

func (p *Plugin) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := healthBody{Status: "ok", Uptime: durRel(time.Since(p.startedAt)), Goroutines: runtime.NumGoroutine()}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		plugin.LoggerFrom(r.Context()).Debug("health encode failed")
	}
}

func fmtBytes(n uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1fGB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1fMB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1fKB", float64(n)/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
