package config

import (
	"reflect"
	"strings"

	logx "willbot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe log
// fields describing them. Secrets (tokens) are never included.
//
// Only logging is applied live; other sections take effect on restart, and
// RestartRequired reports whether any of them changed.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		attrs = append(attrs,
			logx.String("bot.name", newCfg.Bot.Name),
			logx.String("bot.default_channel", newCfg.Bot.DefaultChannel),
		)
	}
	if oldCfg.Plugins != newCfg.Plugins {
		changed = append(changed, "plugins")
		attrs = append(attrs, logx.String("plugins.dir", newCfg.Plugins.Dir))
	}
	if oldCfg.Transport.Driver != newCfg.Transport.Driver ||
		oldCfg.Transport.Telegram.PollTimeout != newCfg.Transport.Telegram.PollTimeout ||
		oldCfg.Transport.Telegram.Token != newCfg.Transport.Telegram.Token ||
		oldCfg.Transport.Console != newCfg.Transport.Console ||
		oldCfg.Transport.Handler != newCfg.Transport.Handler {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", newCfg.Transport.Driver),
			logx.Bool("transport.telegram.token_set", strings.TrimSpace(newCfg.Transport.Telegram.Token) != ""),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.Int("http.port", newCfg.HTTP.Port))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Supervisor != newCfg.Supervisor {
		changed = append(changed, "supervisor")
	}
	return changed, attrs
}

// RestartRequired reports whether any changed section is only read at startup.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return true
		}
	}
	return false
}
