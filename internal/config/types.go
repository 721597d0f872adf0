package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Bot        BotConfig        `json:"bot"`
	Plugins    PluginsConfig    `json:"plugins"`
	Transport  TransportConfig  `json:"transport"`
	HTTP       HTTPConfig       `json:"http"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Supervisor SupervisorConfig `json:"supervisor"`
}

type BotConfig struct {
	Name string `json:"name" validate:"required"`
	// DefaultChannel receives startup error reports and the log chat sink.
	// Either a chat id ("-1001234") or chat id plus thread ("-1001234/7").
	DefaultChannel string `json:"default_channel,omitempty" validate:"omitempty,chattarget"`
}

type PluginsConfig struct {
	// Dir is the root of the plugin tree (manifests and shared objects).
	Dir string `json:"dir" validate:"required"`
}

type TransportConfig struct {
	Driver   string          `json:"driver" validate:"required,oneof=telegram console"`
	Telegram TelegramConfig  `json:"telegram"`
	Console  ConsoleConfig   `json:"console"`
	Handler  HandlerSettings `json:"handler"`
}

type TelegramConfig struct {
	// Token is required when transport.driver is "telegram".
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty" validate:"omitempty,duration"`
}

// ConsoleConfig configures the stdin/stdout transport used for local runs.
type ConsoleConfig struct {
	Username string `json:"username,omitempty"`
	// Direct treats every console line as addressed to the bot.
	Direct bool `json:"direct,omitempty"`
}

// HandlerSettings bounds listener dispatch.
type HandlerSettings struct {
	Workers   int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize int    `json:"queue_size,omitempty" validate:"gte=0"`
	Timeout   string `json:"timeout,omitempty" validate:"omitempty,duration"`
}

type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	// Status mounts a read-only worker status endpoint at /_willbot/status.
	Status bool      `json:"status,omitempty"`
	Debug  HTTPDebug `json:"debug"`
}

// HTTPDebug mounts the Go profiler at /_willbot/debug. A token is required
// unless http.host is a loopback address.
type HTTPDebug struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/willbot" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"loglevel"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings into bot.default_channel.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level" validate:"loglevel"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// SupervisorConfig controls worker teardown.
//
// Defaults: poll_interval "500ms", shutdown_timeout "10s".
type SupervisorConfig struct {
	PollInterval    string `json:"poll_interval,omitempty" validate:"omitempty,duration"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" validate:"omitempty,duration"`
}
