package app

import (
	"fmt"
	"strings"
	"time"

	"willbot/internal/config"
	"willbot/internal/storage"
	kit "willbot/internal/transport"
	logx "willbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat:    logx.ChatConfig{Enabled: l.Chat.Enabled, MinLevel: l.Chat.MinLevel, RatePerSec: l.Chat.RatePerSec},
	}
}

// defaultTarget resolves bot.default_channel. The console transport has a
// single chat, which is the default when nothing is configured.
func defaultTarget(cfg *config.Config, consoleChat int64) (*kit.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Bot.DefaultChannel)
	if raw == "" {
		if cfg.Transport.Driver == "console" {
			return &kit.ChatTarget{ChatID: consoleChat}, nil
		}
		return nil, nil
	}
	t, err := kit.ParseChatTarget(raw)
	if err != nil {
		return nil, fmt.Errorf("bot.default_channel: %w", err)
	}
	return &t, nil
}

func schedulerLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

type httpTimeouts struct {
	read, write time.Duration
}

func mapHTTPTimeouts(cfg *config.Config) (httpTimeouts, error) {
	r, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpTimeouts{}, err
	}
	w, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpTimeouts{}, err
	}
	return httpTimeouts{read: r, write: w}, nil
}
