package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"mini-siem/pkg/events"
	"mini-siem/pkg/logger"
)

// SQLStore implements Store over database/sql via sqlx. Timestamps are kept as
// Unix nanoseconds so both dialects compare them the same way.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

type alertRow struct {
	ID             int64          `db:"id"`
	TimestampNS    int64          `db:"timestamp_ns"`
	Signature      string         `db:"signature"`
	Classification string         `db:"classification"`
	Priority       string         `db:"priority"`
	Severity       string         `db:"severity"`
	Protocol       string         `db:"protocol"`
	SrcIP          string         `db:"src_ip"`
	SrcPort        int            `db:"src_port"`
	DstIP          string         `db:"dst_ip"`
	DstPort        int            `db:"dst_port"`
	Message        string         `db:"message"`
	Enrichment     sql.NullString `db:"enrichment_data"`
	CreatedNS      int64          `db:"created_ns"`
}

type detectionRow struct {
	ID               int64  `db:"id"`
	PassID           string `db:"pass_id"`
	AttackType       string `db:"attack_type"`
	SrcIP            string `db:"src_ip"`
	AlertCount       int    `db:"alert_count"`
	UniqueSignatures int    `db:"unique_signatures"`
	FirstNS          int64  `db:"first_alert_ns"`
	LastNS           int64  `db:"last_alert_ns"`
	Severity         string `db:"severity"`
	Details          string `db:"details"`
	CreatedNS        int64  `db:"created_ns"`
}

type blockRow struct {
	IP        string `db:"ip_address"`
	Reason    string `db:"reason"`
	BlockedBy string `db:"blocked_by"`
	BlockedNS int64  `db:"blocked_at_ns"`
}

const alertColumns = `id, timestamp_ns, signature, classification, priority, severity, protocol,
	src_ip, src_port, dst_ip, dst_port, message, enrichment_data, created_ns`

const detectionColumns = `id, pass_id, attack_type, src_ip, alert_count, unique_signatures,
	first_alert_ns, last_alert_ns, severity, details, created_ns`

// NewSQL connects with driver ("sqlite" or "postgres"), pings and migrates.
func NewSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite", "":
		driver = "sqlite"
		db, err = openSQLite(ctx, dsn)
	case "postgres":
		db, err = openPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the db.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver returns the dialect name.
func (s *SQLStore) Driver() string { return s.driver }

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_ns BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_versions`); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate v%d: %w", m.version, err)
		}
		for _, stmt := range splitStatements(m.sql(s.driver)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migrate v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_versions (version, applied_ns) VALUES (?, ?)`),
			m.version, s.now().UnixNano()); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate v%d: %w", m.version, err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// InsertAlert stores a and sets its ID and CreatedAt.
func (s *SQLStore) InsertAlert(ctx context.Context, a *events.Alert) (int64, error) {
	var enrichment sql.NullString
	if a.Enrichment != nil {
		b, err := json.Marshal(a.Enrichment)
		if err != nil {
			return 0, fmt.Errorf("store: encode enrichment: %w", err)
		}
		enrichment = sql.NullString{String: string(b), Valid: true}
	}
	created := s.now()
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO alerts (timestamp_ns, signature, classification, priority, severity, protocol,
			src_ip, src_port, dst_ip, dst_port, message, enrichment_data, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		unixNano(a.Timestamp), a.Signature, a.Classification, a.Priority, string(a.Severity), a.Protocol,
		a.SrcIP, a.SrcPort, a.DstIP, a.DstPort, a.Message, enrichment, created.UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert alert: %w", err)
	}
	a.ID, a.CreatedAt = id, created
	return id, nil
}

func (s *SQLStore) RecentAlerts(ctx context.Context, limit int) ([]events.Alert, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+alertColumns+`
		FROM alerts ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent alerts: %w", err)
	}
	return toAlerts(rows), nil
}

func (s *SQLStore) AlertsByAddress(ctx context.Context, ip string, window time.Duration) ([]events.Alert, error) {
	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+alertColumns+`
		FROM alerts WHERE src_ip = ? AND timestamp_ns >= ?
		ORDER BY timestamp_ns DESC, id DESC`), ip, s.now().Add(-window).UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: alerts by address: %w", err)
	}
	return toAlerts(rows), nil
}

// AlertCountByAddress is the number of alerts from ip within window.
func (s *SQLStore) AlertCountByAddress(ctx context.Context, ip string, window time.Duration) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM alerts WHERE src_ip = ? AND timestamp_ns >= ?`),
		ip, s.now().Add(-window).UnixNano())
	return n, err
}

// UniqueSignaturesByAddress is the number of distinct signatures from ip within window.
func (s *SQLStore) UniqueSignaturesByAddress(ctx context.Context, ip string, window time.Duration) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(DISTINCT signature) FROM alerts WHERE src_ip = ? AND timestamp_ns >= ?`),
		ip, s.now().Add(-window).UnixNano())
	return n, err
}

func (s *SQLStore) Stats(ctx context.Context) (events.Stats, error) {
	var st events.Stats
	if err := s.db.GetContext(ctx, &st.TotalAlerts, `SELECT COUNT(*) FROM alerts`); err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.UniqueAddresses, `SELECT COUNT(DISTINCT src_ip) FROM alerts`); err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.DetectionCount, `SELECT COUNT(*) FROM detections`); err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.BlockedCount, `SELECT COUNT(*) FROM blocked_ips`); err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, `SELECT severity, COUNT(*) FROM alerts GROUP BY severity`)
	if err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()
	st.BySeverity = make(map[events.Severity]int64)
	for rows.Next() {
		var sev string
		var n int64
		if err := rows.Scan(&sev, &n); err != nil {
			return st, fmt.Errorf("store: stats: severity row: %w", err)
		}
		st.BySeverity[events.Severity(sev)] = n
	}
	return st, rows.Err()
}

func (s *SQLStore) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM alerts WHERE timestamp_ns < ?`),
		cutoffDays(s.now(), days).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return res.RowsAffected()
}

// InsertDetection stores d and sets its ID and CreatedAt if unset.
func (s *SQLStore) InsertDetection(ctx context.Context, d *events.Detection) (int64, error) {
	details, err := json.Marshal(d.Details)
	if err != nil {
		return 0, fmt.Errorf("store: encode details: %w", err)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	var id int64
	err = s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO detections (pass_id, attack_type, src_ip, alert_count, unique_signatures,
			first_alert_ns, last_alert_ns, severity, details, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		d.PassID, string(d.AttackType), d.SrcIP, d.AlertCount, d.UniqueSignatureCount,
		unixNano(d.FirstAlertTime), unixNano(d.LastAlertTime), string(d.Severity), string(details), d.CreatedAt.UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert detection: %w", err)
	}
	d.ID = id
	return id, nil
}

func (s *SQLStore) RecentDetections(ctx context.Context, limit int) ([]events.Detection, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	var rows []detectionRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT `+detectionColumns+`
		FROM detections ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent detections: %w", err)
	}
	out := make([]events.Detection, 0, len(rows))
	for _, r := range rows {
		d := events.Detection{
			ID:                   r.ID,
			PassID:               r.PassID,
			AttackType:           events.AttackType(r.AttackType),
			SrcIP:                r.SrcIP,
			AlertCount:           r.AlertCount,
			UniqueSignatureCount: r.UniqueSignatures,
			FirstAlertTime:       fromUnixNano(r.FirstNS),
			LastAlertTime:        fromUnixNano(r.LastNS),
			Severity:             events.Severity(r.Severity),
			CreatedAt:            fromUnixNano(r.CreatedNS),
		}
		if err := json.Unmarshal([]byte(r.Details), &d.Details); err != nil {
			logger.Warn("store: detection %d: unreadable details: %v", r.ID, err)
			d.Details = nil
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *SQLStore) Block(ctx context.Context, ip, reason, blockedBy string) (BlockResult, error) {
	ip, reason, blockedBy, err := normalizeBlock(ip, reason, blockedBy)
	if err != nil {
		return BlockAlreadyPresent, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO blocked_ips (ip_address, reason, blocked_by, blocked_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ip_address) DO NOTHING`),
		ip, reason, blockedBy, s.now().UnixNano())
	if err != nil {
		return BlockAlreadyPresent, fmt.Errorf("store: block: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return BlockAlreadyPresent, fmt.Errorf("store: block: %w", err)
	}
	if n == 0 {
		return BlockAlreadyPresent, nil
	}
	return BlockInserted, nil
}

func (s *SQLStore) Unblock(ctx context.Context, ip string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM blocked_ips WHERE ip_address = ?`), strings.TrimSpace(ip))
	if err != nil {
		return false, fmt.Errorf("store: unblock: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLStore) ListBlocked(ctx context.Context) ([]events.BlockedIP, error) {
	var rows []blockRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT ip_address, reason, blocked_by, blocked_at_ns
		FROM blocked_ips ORDER BY blocked_at_ns DESC, ip_address`); err != nil {
		return nil, fmt.Errorf("store: list blocked: %w", err)
	}
	out := make([]events.BlockedIP, 0, len(rows))
	for _, r := range rows {
		out = append(out, events.BlockedIP{IP: r.IP, Reason: r.Reason, BlockedBy: r.BlockedBy, BlockedAt: fromUnixNano(r.BlockedNS)})
	}
	return out, nil
}

func (s *SQLStore) IsBlocked(ctx context.Context, ip string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, s.db.Rebind(`SELECT 1 FROM blocked_ips WHERE ip_address = ?`), ip)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is blocked: %w", err)
	}
	return true, nil
}

func toAlerts(rows []alertRow) []events.Alert {
	out := make([]events.Alert, 0, len(rows))
	for _, r := range rows {
		a := events.Alert{
			ID:             r.ID,
			Timestamp:      fromUnixNano(r.TimestampNS),
			Signature:      r.Signature,
			Classification: r.Classification,
			Priority:       r.Priority,
			Severity:       events.Severity(r.Severity),
			Protocol:       r.Protocol,
			SrcIP:          r.SrcIP,
			SrcPort:        r.SrcPort,
			DstIP:          r.DstIP,
			DstPort:        r.DstPort,
			Message:        r.Message,
			CreatedAt:      fromUnixNano(r.CreatedNS),
		}
		if r.Enrichment.Valid && r.Enrichment.String != "" {
			var e events.Enrichment
			if json.Unmarshal([]byte(r.Enrichment.String), &e) == nil {
				a.Enrichment = &e
			}
		}
		out = append(out, a)
	}
	return out
}

// unixNano maps the zero time to 0 rather than a far-negative value.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
