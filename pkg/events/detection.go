package events

import "time"

// AttackType names the correlation pattern that produced a detection.
type AttackType string

const (
	AttackHighVolume    AttackType = "High Volume Attack"
	AttackMultiVector   AttackType = "Multi-Vector Attack"
	AttackRapidSequence AttackType = "Rapid Attack Sequence"
)

// Detection is one pattern match emitted by a correlation pass.
type Detection struct {
	ID                   int64                  `json:"id,omitempty"`
	PassID               string                 `json:"pass_id,omitempty"`
	AttackType           AttackType             `json:"attack_type"`
	SrcIP                string                 `json:"src_ip"`
	AlertCount           int                    `json:"alert_count"`
	UniqueSignatureCount int                    `json:"unique_signature_count"`
	FirstAlertTime       time.Time              `json:"first_alert_time"`
	LastAlertTime        time.Time              `json:"last_alert_time"`
	Severity             Severity               `json:"severity"`
	Details              map[string]interface{} `json:"details,omitempty"`
	CreatedAt            time.Time              `json:"created_at,omitempty"`
}

// Stats summarizes the alert and detection stores.
type Stats struct {
	TotalAlerts     int64              `json:"total_alerts"`
	UniqueAddresses int64              `json:"unique_addresses"`
	DetectionCount  int64              `json:"detection_count"`
	BlockedCount    int64              `json:"blocked_count"`
	BySeverity      map[Severity]int64 `json:"by_severity,omitempty"`
}
