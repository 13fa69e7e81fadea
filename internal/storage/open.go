package storage

import (
	"context"
	"errors"
	"strings"

	"harvestbot/pkg/logx"
)

// Store is the persistence API used by the runner and the admin server.
type Store interface {
	RecordRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit runs, newest first. limit <= 0 means 20.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

const defaultRecentLimit = 20

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
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
