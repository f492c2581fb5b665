package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "oratio/pkg/logx"
)

// Store is the persistence API used by the agent and the pipeline.
type Store interface {
	// Slot ledger. MarkSlotDone is idempotent: marking an already
	// consumed key keeps the original completion time.
	SlotDone(ctx context.Context, key string) (bool, error)
	MarkSlotDone(ctx context.Context, key string, at time.Time) error

	// Operator settings (cadence, family toggles).
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error

	// Binary payloads keyed by artifact id + suffix.
	PutBlob(ctx context.Context, key string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, error)

	// Generation history, read newest-first.
	AppendHistory(ctx context.Context, rec HistoryRecord) error
	RecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
