// Package store persists alerts, detections and the IP block list.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mini-siem/pkg/events"
	"mini-siem/pkg/logger"
)

// ErrNotFound is returned when a lookup by key matches nothing.
var ErrNotFound = errors.New("store: not found")

// AlertStore persists parsed alerts. IDs increase monotonically.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *events.Alert) (int64, error)
	// RecentAlerts returns up to limit alerts, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]events.Alert, error)
	// AlertsByAddress returns alerts from ip whose timestamp lies within window of now, newest first.
	AlertsByAddress(ctx context.Context, ip string, window time.Duration) ([]events.Alert, error)
	Stats(ctx context.Context) (events.Stats, error)
	// PurgeOlderThan deletes alerts older than days and returns how many went.
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// DetectionStore persists correlation detections.
type DetectionStore interface {
	InsertDetection(ctx context.Context, d *events.Detection) (int64, error)
	// RecentDetections returns up to limit detections, newest first.
	RecentDetections(ctx context.Context, limit int) ([]events.Detection, error)
}

// BlockResult distinguishes a new block from a repeat.
type BlockResult int

const (
	BlockInserted BlockResult = iota
	BlockAlreadyPresent
)

func (r BlockResult) String() string {
	if r == BlockInserted {
		return "inserted"
	}
	return "already_present"
}

// BlockStore persists operator IP blocks.
type BlockStore interface {
	Block(ctx context.Context, ip, reason, blockedBy string) (BlockResult, error)
	// Unblock reports false if ip was not blocked.
	Unblock(ctx context.Context, ip string) (bool, error)
	ListBlocked(ctx context.Context) ([]events.BlockedIP, error)
	IsBlocked(ctx context.Context, ip string) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	AlertStore
	DetectionStore
	BlockStore
	Close() error
}

const defaultLimit = 50

// Open returns a SQL store for driver/dsn, or an in-memory store when dsn is empty.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		logger.Info("store: no DSN configured, keeping data in memory")
		return NewMemory(), nil
	}
	s, err := NewSQL(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	return s, nil
}

func normalizeBlock(ip, reason, blockedBy string) (string, string, string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", "", "", errors.New("store: ip address required")
	}
	if reason == "" {
		reason = "Manual block by admin"
	}
	if blockedBy == "" {
		blockedBy = events.DefaultBlockedBy
	}
	return ip, reason, blockedBy, nil
}

func cutoffDays(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
