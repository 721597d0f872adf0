package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "willbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
}

func drivers(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"file":   {Driver: "file", Path: filepath.Join(dir, "f", "willbot")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "s", "willbot.db"), BusyTimeout: time.Second},
	}
}

func TestStateLifecycle(t *testing.T) {
	for name, cfg := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)

			now := time.Now()
			require.NoError(t, st.PutState(ctx, "live", []byte(`[1,2]`), now.Add(time.Hour)))
			require.NoError(t, st.PutState(ctx, "stale", []byte(`x`), now.Add(-time.Hour)))

			v, ok, err := st.GetState(ctx, "live")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[1,2]`, string(v))

			_, ok, err = st.GetState(ctx, "stale")
			require.NoError(t, err)
			assert.False(t, ok, "expired entries are invisible")

			n, err := st.PruneState(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			require.NoError(t, st.Close())

			// Reopen: live state survives.
			st, err = Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			v, ok, err = st.GetState(ctx, "live")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `[1,2]`, string(v))
		})
	}
}

func TestFileAuditIsJSONLines(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "willbot.json")}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Kind: AuditListener, Owner: "chat.hello.Hello", Operation: "greet", OK: true}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Kind: AuditRandom, Owner: "x.Y", Error: "boom"}))
	require.NoError(t, st.Close())

	f, err := os.Open(filepath.Join(dir, "willbot.audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].At.IsZero())
	assert.Equal(t, "greet", got[0].Operation)
	assert.Equal(t, "boom", got[1].Error)
}

func TestSQLiteAudit(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "a.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.AppendAudit(context.Background(), AuditEntry{Kind: AuditStartup, Owner: "bootstrap", Error: "loading x: bad"}))

	db := st.(*sqliteStore).db
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM audit WHERE kind = 'startup' AND ok = 0`).Scan(&n))
	assert.Equal(t, 1, n)
}
