// Package correlation finds multi-alert attack patterns per source address.
package correlation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mini-siem/pkg/events"
)

const (
	DefaultTimeWindow         = 10 * time.Minute
	DefaultAlertThreshold     = 5
	DefaultSignatureThreshold = 3

	// rapidGap is the exclusive upper bound on a gap between consecutive alerts
	// for the pair to count as rapid; zero gaps never count.
	rapidGap = 30 * time.Second
	// minRapidGaps rapid pairs are needed for a rapid-sequence detection.
	minRapidGaps = 2

	maxExampleSignatures = 3
	maxTopSignatures     = 3
	maxRapidExamples     = 5
)

// Thresholds is a snapshot of the engine's tunables.
type Thresholds struct {
	TimeWindow         time.Duration `json:"time_window"`
	AlertThreshold     int           `json:"alert_threshold"`
	SignatureThreshold int           `json:"signature_threshold"`
}

// SignatureCount is one row of a multi-signature breakdown.
type SignatureCount struct {
	Signature string `json:"signature"`
	Count     int    `json:"count"`
}

// RapidPair is two consecutive alerts closer than the rapid gap.
type RapidPair struct {
	First   string  `json:"alert1"`
	Second  string  `json:"alert2"`
	Seconds float64 `json:"time_delta"`
}

// Engine runs the three detectors over a batch of alerts. It keeps no state
// between passes other than its thresholds, which may be changed concurrently.
type Engine struct {
	mu                 sync.RWMutex
	window             time.Duration
	alertThreshold     int
	signatureThreshold int

	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the clock the recency window is measured against.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an engine with the default thresholds.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		window:             DefaultTimeWindow,
		alertThreshold:     DefaultAlertThreshold,
		signatureThreshold: DefaultSignatureThreshold,
		now:                time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetTimeWindow sets the recency window in minutes. Non-positive values are ignored.
func (e *Engine) SetTimeWindow(minutes int) {
	if minutes <= 0 {
		return
	}
	e.mu.Lock()
	e.window = time.Duration(minutes) * time.Minute
	e.mu.Unlock()
}

// SetAlertThreshold sets the high-volume alert count. Non-positive values are ignored.
func (e *Engine) SetAlertThreshold(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.alertThreshold = n
	e.mu.Unlock()
}

// SetSignatureThreshold sets the multi-signature distinct count. Non-positive values are ignored.
func (e *Engine) SetSignatureThreshold(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.signatureThreshold = n
	e.mu.Unlock()
}

// Thresholds returns the current tunables.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Thresholds{
		TimeWindow:         e.window,
		AlertThreshold:     e.alertThreshold,
		SignatureThreshold: e.signatureThreshold,
	}
}

// Analyze groups alerts by source address and runs every detector on each
// group. Output is ordered by address, then high-volume, multi-signature,
// rapid-sequence. All detections of one call share a pass ID.
func (e *Engine) Analyze(alerts []events.Alert) []events.Detection {
	if len(alerts) == 0 {
		return nil
	}
	th := e.Thresholds()
	now := e.now()
	pass := uuid.NewString()

	groups := make(map[string][]events.Alert)
	for _, a := range alerts {
		groups[a.SrcIP] = append(groups[a.SrcIP], a)
	}
	addrs := make([]string, 0, len(groups))
	for ip := range groups {
		addrs = append(addrs, ip)
	}
	sort.Strings(addrs)

	var out []events.Detection
	for _, ip := range addrs {
		group := groups[ip]
		recent := recentAlerts(group, now, th.TimeWindow)
		if d, ok := highVolume(ip, recent, th); ok {
			out = append(out, d)
		}
		if d, ok := multiSignature(ip, recent, th); ok {
			out = append(out, d)
		}
		if d, ok := rapidSequence(ip, group); ok {
			out = append(out, d)
		}
	}
	for i := range out {
		out[i].PassID = pass
		out[i].CreatedAt = now
	}
	return out
}

// recentAlerts keeps alerts younger than window, sorted by time. Alerts with
// no usable timestamp are left out.
func recentAlerts(group []events.Alert, now time.Time, window time.Duration) []events.Alert {
	var out []events.Alert
	for _, a := range group {
		if a.Timestamp.IsZero() {
			continue
		}
		if now.Sub(a.Timestamp) < window {
			out = append(out, a)
		}
	}
	sortByTime(out)
	return out
}

func highVolume(ip string, recent []events.Alert, th Thresholds) (events.Detection, bool) {
	if len(recent) < th.AlertThreshold {
		return events.Detection{}, false
	}
	first, last := recent[0].Timestamp, recent[len(recent)-1].Timestamp
	return events.Detection{
		AttackType:           events.AttackHighVolume,
		SrcIP:                ip,
		AlertCount:           len(recent),
		UniqueSignatureCount: countSignatures(recent),
		FirstAlertTime:       first,
		LastAlertTime:        last,
		Severity:             events.SeverityHigh,
		Details: map[string]interface{}{
			"reason":            fmt.Sprintf("Detected %d alerts in %d minutes", len(recent), int(th.TimeWindow/time.Minute)),
			"alert_signatures":  exampleSignatures(recent, maxExampleSignatures),
			"time_span_seconds": last.Sub(first).Seconds(),
		},
	}, true
}

func multiSignature(ip string, recent []events.Alert, th Thresholds) (events.Detection, bool) {
	breakdown := make(map[string]int)
	for _, a := range recent {
		breakdown[a.Signature]++
	}
	if len(recent) == 0 || len(breakdown) < th.SignatureThreshold {
		return events.Detection{}, false
	}
	top := make([]SignatureCount, 0, len(breakdown))
	for sig, n := range breakdown {
		top = append(top, SignatureCount{Signature: sig, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Signature < top[j].Signature
	})
	if len(top) > maxTopSignatures {
		top = top[:maxTopSignatures]
	}
	return events.Detection{
		AttackType:           events.AttackMultiVector,
		SrcIP:                ip,
		AlertCount:           len(recent),
		UniqueSignatureCount: len(breakdown),
		FirstAlertTime:       recent[0].Timestamp,
		LastAlertTime:        recent[len(recent)-1].Timestamp,
		Severity:             events.SeverityHigh,
		Details: map[string]interface{}{
			"reason":              fmt.Sprintf("Detected %d different attack signatures", len(breakdown)),
			"signature_breakdown": breakdown,
			"top_signatures":      top,
		},
	}, true
}

// rapidSequence looks at the whole group regardless of age, unlike the other
// two detectors, so slow chains that once ran fast still qualify.
func rapidSequence(ip string, group []events.Alert) (events.Detection, bool) {
	timed := make([]events.Alert, 0, len(group))
	for _, a := range group {
		if !a.Timestamp.IsZero() {
			timed = append(timed, a)
		}
	}
	if len(timed) < minRapidGaps+1 {
		return events.Detection{}, false
	}
	sortByTime(timed)

	var pairs []RapidPair
	for i := 1; i < len(timed); i++ {
		gap := timed[i].Timestamp.Sub(timed[i-1].Timestamp)
		if gap > 0 && gap < rapidGap {
			pairs = append(pairs, RapidPair{
				First:   timed[i-1].Signature,
				Second:  timed[i].Signature,
				Seconds: gap.Seconds(),
			})
		}
	}
	if len(pairs) < minRapidGaps {
		return events.Detection{}, false
	}
	first, last := timed[0].Timestamp, timed[len(timed)-1].Timestamp
	examples := pairs
	if len(examples) > maxRapidExamples {
		examples = examples[:maxRapidExamples]
	}
	return events.Detection{
		AttackType:           events.AttackRapidSequence,
		SrcIP:                ip,
		AlertCount:           len(timed),
		UniqueSignatureCount: countSignatures(timed),
		FirstAlertTime:       first,
		LastAlertTime:        last,
		Severity:             events.SeverityCritical,
		Details: map[string]interface{}{
			"reason":              fmt.Sprintf("Detected %d rapid attack sequences", len(pairs)),
			"rapid_sequences":     examples,
			"rapid_gap_count":     len(pairs),
			"total_sequence_time": last.Sub(first).Seconds(),
		},
	}, true
}

func sortByTime(alerts []events.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.Before(alerts[j].Timestamp)
	})
}

func countSignatures(alerts []events.Alert) int {
	seen := make(map[string]struct{}, len(alerts))
	for _, a := range alerts {
		seen[a.Signature] = struct{}{}
	}
	return len(seen)
}

// exampleSignatures returns up to n distinct signatures in order of first appearance.
func exampleSignatures(alerts []events.Alert, n int) []string {
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for _, a := range alerts {
		if _, ok := seen[a.Signature]; ok {
			continue
		}
		seen[a.Signature] = struct{}{}
		out = append(out, a.Signature)
		if len(out) == n {
			break
		}
	}
	return out
}
