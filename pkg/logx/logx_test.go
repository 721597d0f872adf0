package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"willbot/internal/transport"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Error("dropped")
}

func TestWriterLoggerRendersFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Debug("hello", Int("n", 3))
	out := buf.String()
	for _, want := range []string{"hello", "comp=test", "n=3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestFormatChatLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"worker exited","worker":"http","caller":"a.go:1"}`)
	got := formatChatLine(line)
	want := "[WARN] worker exited\n- caller=a.go:1\n- worker=http"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}
	if got := formatChatLine([]byte("  not json \n")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return transport.MessageRef{}, nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestChatSinkHonorsMinLevel(t *testing.T) {
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, MinLevel: "error", RatePerSec: 10}})
	defer svc.Close()
	rec := &recordingSender{}
	svc.SetSender(rec)
	svc.SetChatTarget(transport.ChatTarget{ChatID: 42})

	log.Warn("below threshold")
	log.Error("above threshold")

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sent) != 1 {
		t.Fatalf("sent %d messages, want 1: %v", len(rec.sent), rec.sent)
	}
	if !strings.Contains(rec.sent[0], "above threshold") {
		t.Fatalf("unexpected message %q", rec.sent[0])
	}
}
