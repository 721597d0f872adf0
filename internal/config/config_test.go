package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
bot:
  name: will
  default_channel: "-1001/7"
plugins:
  dir: ./plugins.d
transport:
  driver: console
http:
  enabled: true
  port: 8080
scheduler:
  enabled: true
  timezone: UTC
logging:
  level: debug
  console: true
supervisor:
  poll_interval: 250ms
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(validYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "will", cfg.Bot.Name)
	assert.Equal(t, 8080, cfg.HTTP.Port)

	poll, timeout, err := cfg.Supervisor.Intervals()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, poll)
	assert.Equal(t, DefaultShutdownTimeout, timeout)

	js := `{"bot":{"name":"will"},"plugins":{"dir":"p"},"transport":{"driver":"console"},"logging":{}}`
	cfg, err = Decode("c.json", []byte(js))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
}

func TestDecodeIsStrict(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unknown field", "c.json", `{"bot":{"name":"x","nick":"y"}}`},
		{"trailing data", "c.json", `{"bot":{"name":"x"}} {}`},
		{"bad yaml", "c.yaml", "bot: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Fatalf("Decode(%s) accepted invalid input", tt.name)
			}
		})
	}
}

func TestValidateReportsFields(t *testing.T) {
	cfg := &Config{
		Bot:       BotConfig{DefaultChannel: "general"},
		Transport: TransportConfig{Driver: "telegram"},
		HTTP:      HTTPConfig{Enabled: true},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"},
		Logging:   LoggingConfig{Level: "loud"},
	}
	err := Validate(cfg)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "err = %v", err)

	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{
		"bot.name", "bot.default_channel", "plugins.dir",
		"transport.telegram.token", "http.port", "scheduler.timezone", "logging.level",
	} {
		assert.True(t, fields[want], "missing field error for %s in %v", want, verr)
	}
}

func TestSummarizeChange(t *testing.T) {
	a, _ := Decode("c.yaml", []byte(validYAML))
	b, _ := Decode("c.yaml", []byte(validYAML))
	b.Logging.Level = "warn"

	changed, _ := SummarizeChange(a, b)
	assert.Equal(t, []string{"logging"}, changed)
	assert.False(t, RestartRequired(changed))

	b.HTTP.Port = 9090
	changed, _ = SummarizeChange(a, b)
	assert.Equal(t, []string{"http", "logging"}, changed)
	assert.True(t, RestartRequired(changed))
}

func TestWatchPublishesValidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "willbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	m := NewManager(path)
	m.debounce = 10 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and never published.
	require.NoError(t, os.WriteFile(path, []byte("bot: {name: \"\"}\n"), 0o600))
	time.Sleep(150 * time.Millisecond)
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c)
	default:
	}

	updated := validYAML + "  shutdown_timeout: 3s\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	select {
	case c := <-sub:
		assert.Equal(t, "3s", c.Supervisor.ShutdownTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("valid reload not published")
	}
}
