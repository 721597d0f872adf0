package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"willbot/internal/transport"
	logx "willbot/pkg/logx"
)

func TestConsoleRoundTrip(t *testing.T) {
	var out bytes.Buffer
	a := New(Config{Direct: true}, strings.NewReader("hello\n\n  ping  \n"), &out, logx.Nop())

	ch := make(chan transport.Message, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx, ch))

	var got []transport.Message
	for len(got) < 2 {
		select {
		case m := <-ch:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for console messages")
		}
	}
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "ping", got[1].Text)
	assert.True(t, got[0].IsDirect)
	assert.Equal(t, "operator", got[0].FromUsername)
	assert.Equal(t, ChatID, got[1].ChatID)

	_, err := a.SendText(ctx, got[0].Target(), "pong", nil)
	require.NoError(t, err)
	assert.Equal(t, "[1] pong\n", out.String())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
}
