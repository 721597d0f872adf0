package hello

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"willbot/internal/plugin"
)

func TestDefaultsAndOverrides(t *testing.T) {
	v, err := New(json.RawMessage(`{"times":4,"days":"sat,sun"}`))
	require.NoError(t, err)
	p := v.(*Plugin)
	assert.Equal(t, 9, p.cfg.StartHour)
	assert.Equal(t, 4, p.cfg.Times)

	b := plugin.NewBuilder()
	require.NoError(t, p.Capabilities(b))
	ops := b.Operations()
	require.Len(t, ops, 3)
	wave := ops[2].Tags
	assert.True(t, wave.RandomTask)
	assert.Equal(t, "sat,sun", *wave.DayOfWeek)
	assert.Equal(t, 4, *wave.NumTimesPerDay)
}

func TestEmptyGreetingsRejected(t *testing.T) {
	_, err := New(json.RawMessage(`{"greetings":[]}`))
	assert.Error(t, err)
}
