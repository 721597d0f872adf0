package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines audit log plus a snapshotted state journal
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit kinds.
const (
	AuditListener = "listener"
	AuditPeriodic = "periodic"
	AuditRandom   = "random"
	AuditStartup  = "startup"
)

// AuditEntry records one plugin invocation or startup report.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Owner     string    `json:"owner"`
	Operation string    `json:"operation,omitempty"`
	ActorID   int64     `json:"actor_id,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	ThreadID  int       `json:"thread_id,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
