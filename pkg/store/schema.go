package store

import "strings"

type migration struct {
	version int
	script  string
}

// sql renders the script for a dialect: {{serial}} becomes the auto-increment key type.
func (m migration) sql(driver string) string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(m.script, "{{serial}}", serial)
}

var migrations = []migration{
	{
		version: 1,
		script: `
CREATE TABLE IF NOT EXISTS alerts (
    id              {{serial}},
    timestamp_ns    BIGINT NOT NULL DEFAULT 0,
    signature       TEXT NOT NULL,
    classification  TEXT NOT NULL DEFAULT '',
    priority        TEXT NOT NULL DEFAULT '',
    severity        TEXT NOT NULL DEFAULT 'INFO',
    protocol        TEXT NOT NULL DEFAULT '',
    src_ip          TEXT NOT NULL,
    src_port        INTEGER NOT NULL DEFAULT 0,
    dst_ip          TEXT NOT NULL,
    dst_port        INTEGER NOT NULL DEFAULT 0,
    message         TEXT NOT NULL DEFAULT '',
    enrichment_data TEXT,
    created_ns      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_src_ip ON alerts(src_ip, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);

CREATE TABLE IF NOT EXISTS detections (
    id                {{serial}},
    pass_id           TEXT NOT NULL DEFAULT '',
    attack_type       TEXT NOT NULL,
    src_ip            TEXT NOT NULL,
    alert_count       INTEGER NOT NULL DEFAULT 0,
    unique_signatures INTEGER NOT NULL DEFAULT 0,
    first_alert_ns    BIGINT NOT NULL DEFAULT 0,
    last_alert_ns     BIGINT NOT NULL DEFAULT 0,
    severity          TEXT NOT NULL,
    details           TEXT NOT NULL DEFAULT '{}',
    created_ns        BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_src_ip ON detections(src_ip);

CREATE TABLE IF NOT EXISTS blocked_ips (
    ip_address    TEXT PRIMARY KEY,
    reason        TEXT NOT NULL DEFAULT '',
    blocked_by    TEXT NOT NULL DEFAULT 'admin',
    blocked_at_ns BIGINT NOT NULL
);
`,
	},
}
