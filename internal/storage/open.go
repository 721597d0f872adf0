package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "willbot/pkg/logx"
)

// Store is the persistence API used by the workers.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// PutState stores value under key until the given time.
	PutState(ctx context.Context, key string, value []byte, until time.Time) error
	// GetState returns a value that has not yet expired.
	GetState(ctx context.Context, key string) (value []byte, ok bool, err error)
	// PruneState drops every entry expiring before now and reports how many.
	PruneState(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// normalizeAudit fills the id and timestamp of an entry.
func normalizeAudit(e AuditEntry) AuditEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e
}
