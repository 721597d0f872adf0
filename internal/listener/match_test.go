package listener

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"willbot/internal/bootstrap"
	"willbot/internal/transport"
)

func desc(t testing.TB, name, pattern string, direct, includeMe bool, args ...string) bootstrap.ListenerDescriptor {
	t.Helper()
	re, err := bootstrap.CompilePattern(pattern, false)
	require.NoError(t, err)
	return bootstrap.ListenerDescriptor{
		Owner:              bootstrap.Owner{Unit: "u", Class: "C"},
		Operation:          name,
		Pattern:            pattern,
		Regexp:             re,
		Args:               args,
		IncludeMe:          includeMe,
		DirectMentionsOnly: direct,
	}
}

func TestMatchDirectSelfCombinations(t *testing.T) {
	cases := []struct {
		direct, self bool
		want         []string
	}{
		{direct: false, self: false, want: []string{"any", "withMe"}},
		{direct: true, self: false, want: []string{"any", "directOnly", "withMe", "directWithMe"}},
		{direct: false, self: true, want: []string{"withMe"}},
		{direct: true, self: true, want: []string{"withMe", "directWithMe"}},
	}
	table := []bootstrap.ListenerDescriptor{
		desc(t, "any", "ping", false, false),
		desc(t, "directOnly", "ping", true, false),
		desc(t, "withMe", "ping", false, true),
		desc(t, "directWithMe", "ping", true, true),
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("direct=%v/self=%v", tc.direct, tc.self), func(t *testing.T) {
			msg := transport.Message{Text: "PING!", IsDirect: tc.direct, FromSelf: tc.self}
			var got []string
			for _, h := range Match(msg, table) {
				got = append(got, h.Listener.Operation)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatchBindsArgs(t *testing.T) {
	table := []bootstrap.ListenerDescriptor{
		desc(t, "remind", `remind (?P<who>\w+) to (?P<what>.+)`, false, false, "who", "what"),
		desc(t, "plain", `remind`, false, false),
	}
	hits := Match(transport.Message{Text: "Remind bob to buy milk"}, table)
	require.Len(t, hits, 2)
	assert.Equal(t, map[string]string{"who": "bob", "what": "buy milk"}, hits[0].Args)
	assert.Equal(t, "Remind bob to buy milk", hits[0].Groups[0])
	assert.Nil(t, hits[1].Args)
}

func TestShouldEvaluate(t *testing.T) {
	tables := &bootstrap.Tables{Listeners: []bootstrap.ListenerDescriptor{desc(t, "a", "x", false, false)}}
	assert.True(t, ShouldEvaluate(transport.Message{}, tables))
	assert.False(t, ShouldEvaluate(transport.Message{FromSelf: true}, tables))
	tables.SomeListenersIncludeMe = true
	assert.True(t, ShouldEvaluate(transport.Message{FromSelf: true}, tables))
	assert.False(t, ShouldEvaluate(transport.Message{}, &bootstrap.Tables{}))
	assert.False(t, ShouldEvaluate(transport.Message{}, nil))
}

func TestMatchNeverViolatesScoping(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		table := make([]bootstrap.ListenerDescriptor, n)
		for i := range table {
			table[i] = desc(t, fmt.Sprint(i), ".", rapid.Bool().Draw(rt, "direct"), rapid.Bool().Draw(rt, "me"))
		}
		msg := transport.Message{
			Text:     "x",
			IsDirect: rapid.Bool().Draw(rt, "isDirect"),
			FromSelf: rapid.Bool().Draw(rt, "fromSelf"),
		}
		for _, h := range Match(msg, table) {
			if h.Listener.DirectMentionsOnly && !msg.IsDirect {
				rt.Fatalf("direct-only listener %s fired on non-direct message", h.Listener.Operation)
			}
			if msg.FromSelf && !h.Listener.IncludeMe {
				rt.Fatalf("listener %s fired on self-authored message", h.Listener.Operation)
			}
		}
	})
}
