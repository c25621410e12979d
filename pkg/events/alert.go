// Package events holds the value types shared by the ingestion, correlation and storage stages.
package events

import (
	"strings"
	"time"
)

// Severity is the coarse priority bucket of an alert or detection.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// SeverityFromPriority maps an IDS priority to a severity. Anything outside 1-4 is INFO.
func SeverityFromPriority(priority string) Severity {
	switch strings.TrimSpace(priority) {
	case "1":
		return SeverityHigh
	case "2":
		return SeverityMedium
	case "3":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Rank orders severities, CRITICAL highest. Unknown values rank with INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity accepts any letter case; unknown input yields INFO.
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev
	default:
		return SeverityInfo
	}
}

// Alert is one parsed intrusion-detection event. ID is zero until the alert is persisted.
type Alert struct {
	ID             int64       `json:"id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Signature      string      `json:"signature"`
	Classification string      `json:"classification"`
	Priority       string      `json:"priority"`
	Severity       Severity    `json:"severity"`
	Protocol       string      `json:"protocol"`
	SrcIP          string      `json:"src_ip"`
	SrcPort        int         `json:"src_port"`
	DstIP          string      `json:"dst_ip"`
	DstPort        int         `json:"dst_port"`
	Message        string      `json:"message,omitempty"`
	Enrichment     *Enrichment `json:"enrichment,omitempty"`
	CreatedAt      time.Time   `json:"created_at,omitempty"`
}

// Enriched reports whether the enrichment stage has run on the alert.
func (a *Alert) Enriched() bool {
	return a.Enrichment != nil
}
