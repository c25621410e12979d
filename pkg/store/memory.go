package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mini-siem/pkg/events"
)

// Memory is a process-local Store used when no database is configured and in tests.
type Memory struct {
	mu         sync.RWMutex
	alerts     []events.Alert
	detections []events.Detection
	blocked    map[string]events.BlockedIP
	nextAlert  int64
	nextDet    int64
	now        func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blocked: make(map[string]events.BlockedIP), now: time.Now}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) InsertAlert(_ context.Context, a *events.Alert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAlert++
	a.ID, a.CreatedAt = m.nextAlert, m.now()
	cp := *a
	if a.Enrichment != nil {
		e := *a.Enrichment
		cp.Enrichment = &e
	}
	m.alerts = append(m.alerts, cp)
	return a.ID, nil
}

func (m *Memory) RecentAlerts(_ context.Context, limit int) ([]events.Alert, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.Alert, 0, min(limit, len(m.alerts)))
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}

func (m *Memory) AlertsByAddress(_ context.Context, ip string, window time.Duration) ([]events.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().Add(-window)
	var out []events.Alert
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if a.SrcIP == ip && !a.Timestamp.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (events.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := events.Stats{
		TotalAlerts:    int64(len(m.alerts)),
		DetectionCount: int64(len(m.detections)),
		BlockedCount:   int64(len(m.blocked)),
		BySeverity:     make(map[events.Severity]int64),
	}
	addrs := make(map[string]struct{})
	for _, a := range m.alerts {
		addrs[a.SrcIP] = struct{}{}
		st.BySeverity[a.Severity]++
	}
	st.UniqueAddresses = int64(len(addrs))
	return st, nil
}

func (m *Memory) PurgeOlderThan(_ context.Context, days int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := cutoffDays(m.now(), days)
	kept := m.alerts[:0]
	var n int64
	for _, a := range m.alerts {
		if a.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	return n, nil
}

func (m *Memory) InsertDetection(_ context.Context, d *events.Detection) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDet++
	d.ID = m.nextDet
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now()
	}
	m.detections = append(m.detections, *d)
	return d.ID, nil
}

func (m *Memory) RecentDetections(_ context.Context, limit int) ([]events.Detection, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.Detection, 0, min(limit, len(m.detections)))
	for i := len(m.detections) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.detections[i])
	}
	return out, nil
}

func (m *Memory) Block(_ context.Context, ip, reason, blockedBy string) (BlockResult, error) {
	ip, reason, blockedBy, err := normalizeBlock(ip, reason, blockedBy)
	if err != nil {
		return BlockAlreadyPresent, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[ip]; ok {
		return BlockAlreadyPresent, nil
	}
	m.blocked[ip] = events.BlockedIP{IP: ip, Reason: reason, BlockedBy: blockedBy, BlockedAt: m.now()}
	return BlockInserted, nil
}

func (m *Memory) Unblock(_ context.Context, ip string) (bool, error) {
	ip = strings.TrimSpace(ip)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[ip]; !ok {
		return false, nil
	}
	delete(m.blocked, ip)
	return true, nil
}

func (m *Memory) ListBlocked(_ context.Context) ([]events.BlockedIP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.BlockedIP, 0, len(m.blocked))
	for _, b := range m.blocked {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].BlockedAt.After(out[j].BlockedAt)
		}
		return out[i].IP < out[j].IP
	})
	return out, nil
}

func (m *Memory) IsBlocked(_ context.Context, ip string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocked[ip]
	return ok, nil
}
