package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"willbot/internal/config"
	"willbot/internal/plugin"
	logx "willbot/pkg/logx"
)

type echoPlugin struct{ plugin.Base }

func (e *echoPlugin) Capabilities(b *plugin.Builder) error {
	b.Listen("echo", `^echo (?P<what>.+)`, func(ctx context.Context, ev *plugin.Event) error {
		return ev.Reply(ctx, ev.Args["what"])
	}, plugin.Args("what"))
	return nil
}

func init() {
	plugin.RegisterFactory("app_test.echo", func(json.RawMessage) (any, error) { return &echoPlugin{}, nil })
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func consoleConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	plugins := filepath.Join(dir, "plugins.d")
	writeFile(t, filepath.Join(plugins, "chat", "echo.yaml"), "classes:\n  - name: Echo\n    factory: app_test.echo\n")
	writeFile(t, filepath.Join(plugins, "broken.yaml"), "classes:\n  - factory: app_test.missing\n")

	cfg := `{
  "bot": {"name": "test"},
  "plugins": {"dir": "` + filepath.ToSlash(plugins) + `"},
  "transport": {"driver": "console", "console": {"direct": true}},
  "storage": {"driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "data", "willbot")) + `"},
  "logging": {"level": "error"},
  "supervisor": {"poll_interval": "10ms", "shutdown_timeout": "3s"}
}`
	path := filepath.Join(dir, "willbot.json")
	writeFile(t, path, cfg)
	return path
}

func TestRunConsoleEndToEnd(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	out := &syncBuffer{}

	a, err := New(consoleConfig(t), WithConsoleIO(inR, out), WithProgress(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "FYI, I had some errors starting up:")
	}, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "[1] loading broken: ")

	_, err = io.WriteString(inW, "echo round trip\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "[1] round trip") }, 3*time.Second, 10*time.Millisecond)

	st := a.Status().(Status)
	assert.Equal(t, 1, st.Listeners)
	require.Len(t, st.Workers, 3)
	assert.Equal(t, []string{"transport", "scheduler", "http"}, []string{st.Workers[0].Name, st.Workers[1].Name, st.Workers[2].Name})
	assert.True(t, a.healthy())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, path, `{"bot":{"name":"x"},"plugins":{"dir":"p"},"transport":{"driver":"telegram"},"logging":{}}`)
	_, err := New(path)
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "transport.telegram.token")
}

func TestInspectDoesNotStartWorkers(t *testing.T) {
	res, err := Inspect(context.Background(), consoleConfig(t), logx.Nop())
	require.NoError(t, err)
	assert.Len(t, res.Tables.Listeners, 1)
	require.Equal(t, 1, res.Errors.Len())
	assert.Equal(t, "loading broken", res.Errors.Items()[0].Context)
}

func TestDefaultTarget(t *testing.T) {
	cfg := &config.Config{Transport: config.TransportConfig{Driver: "console"}}
	got, err := defaultTarget(cfg, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ChatID)

	cfg.Transport.Driver = "telegram"
	got, err = defaultTarget(cfg, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	cfg.Bot.DefaultChannel = "-1001/7"
	got, err = defaultTarget(cfg, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), got.ChatID)
	assert.Equal(t, 7, got.ThreadID)
}

func TestMapStorageConfig(t *testing.T) {
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)
}
