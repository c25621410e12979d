package correlation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-siem/pkg/events"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func testEngine() *Engine {
	return NewEngine(WithClock(func() time.Time { return now }))
}

func alertAt(ip, sig string, ago time.Duration) events.Alert {
	return events.Alert{SrcIP: ip, Signature: sig, Timestamp: now.Add(-ago), Severity: events.SeverityMedium}
}

func byType(ds []events.Detection) map[events.AttackType]events.Detection {
	m := make(map[events.AttackType]events.Detection)
	for _, d := range ds {
		m[d.AttackType] = d
	}
	return m
}

func TestAnalyze_Empty(t *testing.T) {
	assert.Empty(t, testEngine().Analyze(nil))
}

func TestHighVolume_FiresAlone(t *testing.T) {
	var alerts []events.Alert
	for i := 0; i < 5; i++ {
		alerts = append(alerts, alertAt("203.0.113.7", "Port Scanning Detected", time.Duration(i)*time.Minute))
	}
	ds := testEngine().Analyze(alerts)
	require.Len(t, ds, 1)
	d := ds[0]
	assert.Equal(t, events.AttackHighVolume, d.AttackType)
	assert.Equal(t, events.SeverityHigh, d.Severity)
	assert.Equal(t, 5, d.AlertCount)
	assert.Equal(t, 1, d.UniqueSignatureCount)
	assert.Equal(t, now.Add(-4*time.Minute), d.FirstAlertTime)
	assert.Equal(t, now, d.LastAlertTime)
	assert.Equal(t, "Detected 5 alerts in 10 minutes", d.Details["reason"])
	assert.Equal(t, []string{"Port Scanning Detected"}, d.Details["alert_signatures"])
	assert.Equal(t, 240.0, d.Details["time_span_seconds"])
	assert.NotEmpty(t, d.PassID)
}

func TestHighVolume_RespectsWindow(t *testing.T) {
	var alerts []events.Alert
	for i := 0; i < 4; i++ {
		alerts = append(alerts, alertAt("203.0.113.7", "x", time.Duration(i)*time.Minute))
	}
	// Exactly on the window boundary is not recent.
	alerts = append(alerts, alertAt("203.0.113.7", "x", 10*time.Minute))
	ds := testEngine().Analyze(alerts)
	assert.NotContains(t, byType(ds), events.AttackHighVolume)
}

func TestMultiSignature_Fires(t *testing.T) {
	alerts := []events.Alert{
		alertAt("198.51.100.4", "SQL Injection Attempt", 0),
		alertAt("198.51.100.4", "Directory Traversal Attempt", time.Minute),
		alertAt("198.51.100.4", "SQL Injection Attempt", 2*time.Minute),
		alertAt("198.51.100.4", "Suspicious DNS Query", 3*time.Minute),
	}
	ds := testEngine().Analyze(alerts)
	require.Len(t, ds, 1)
	d := ds[0]
	assert.Equal(t, events.AttackMultiVector, d.AttackType)
	assert.Equal(t, events.SeverityHigh, d.Severity)
	assert.Equal(t, 3, d.UniqueSignatureCount)
	assert.Equal(t, 4, d.AlertCount)
	assert.Equal(t, map[string]int{
		"SQL Injection Attempt":       2,
		"Directory Traversal Attempt": 1,
		"Suspicious DNS Query":        1,
	}, d.Details["signature_breakdown"])
	top := d.Details["top_signatures"].([]SignatureCount)
	require.Len(t, top, 3)
	assert.Equal(t, SignatureCount{"SQL Injection Attempt", 2}, top[0])
	assert.Equal(t, "Directory Traversal Attempt", top[1].Signature)
}

func TestMultiSignature_OldSignaturesDoNotCount(t *testing.T) {
	alerts := []events.Alert{
		alertAt("198.51.100.4", "a", 0),
		alertAt("198.51.100.4", "b", 2*time.Minute),
		alertAt("198.51.100.4", "c", time.Hour),
	}
	assert.NotContains(t, byType(testEngine().Analyze(alerts)), events.AttackMultiVector)
}

func TestRapidSequence(t *testing.T) {
	base := now.Add(-2 * time.Hour)
	mk := func(sec int, sig string) events.Alert {
		return events.Alert{SrcIP: "192.0.2.50", Signature: sig, Timestamp: base.Add(time.Duration(sec) * time.Second)}
	}
	alerts := []events.Alert{mk(40, "d"), mk(0, "a"), mk(8, "c"), mk(5, "b")}

	ds := testEngine().Analyze(alerts)
	require.Len(t, ds, 1, "outside the recency window only the rapid detector applies")
	d := ds[0]
	assert.Equal(t, events.AttackRapidSequence, d.AttackType)
	assert.Equal(t, events.SeverityCritical, d.Severity)
	assert.Equal(t, 2, d.Details["rapid_gap_count"])
	pairs := d.Details["rapid_sequences"].([]RapidPair)
	assert.Equal(t, []RapidPair{{"a", "b", 5}, {"b", "c", 3}}, pairs)
	assert.Equal(t, 40.0, d.Details["total_sequence_time"])
	assert.Equal(t, 4, d.AlertCount)

	ds = testEngine().Analyze(append(alerts, mk(200, "e")))
	require.Contains(t, byType(ds), events.AttackRapidSequence)
	assert.Equal(t, 2, byType(ds)[events.AttackRapidSequence].Details["rapid_gap_count"])
}

func TestRapidSequence_NeedsTwoGaps(t *testing.T) {
	mk := func(sec int) events.Alert {
		return events.Alert{SrcIP: "192.0.2.51", Signature: "x", Timestamp: now.Add(-time.Hour).Add(time.Duration(sec) * time.Second)}
	}
	tests := []struct {
		name    string
		offsets []int
		fire    bool
	}{
		{"one rapid gap", []int{0, 10, 100}, false},
		{"zero gaps do not count", []int{0, 0, 0, 0}, false},
		{"exactly 30s is not rapid", []int{0, 30, 60}, false},
		{"two rapid gaps apart", []int{0, 29, 500, 501}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var alerts []events.Alert
			for _, o := range tt.offsets {
				alerts = append(alerts, mk(o))
			}
			_, fired := byType(testEngine().Analyze(alerts))[events.AttackRapidSequence]
			assert.Equal(t, tt.fire, fired)
		})
	}
}

func TestAnalyze_ZeroTimestampsSkipped(t *testing.T) {
	alerts := []events.Alert{
		{SrcIP: "192.0.2.9", Signature: "a"},
		{SrcIP: "192.0.2.9", Signature: "b"},
		{SrcIP: "192.0.2.9", Signature: "c"},
		alertAt("192.0.2.9", "a", time.Minute),
	}
	assert.Empty(t, testEngine().Analyze(alerts))
}

func TestAnalyze_EndToEndBurst(t *testing.T) {
	// 25 alerts over 8 minutes, about 20s apart.
	var alerts []events.Alert
	for i := 0; i < 25; i++ {
		ago := time.Duration(i) * 8 * time.Minute / 25
		alerts = append(alerts, alertAt("203.0.113.99", fmt.Sprintf("sig-%d", i%4), ago))
	}
	alerts = append(alerts, alertAt("203.0.113.100", "lone", 0))

	ds := testEngine().Analyze(alerts)
	types := byType(ds)
	require.Contains(t, types, events.AttackHighVolume)
	assert.Equal(t, 25, types[events.AttackHighVolume].AlertCount)
	assert.Contains(t, types, events.AttackMultiVector)
	assert.Contains(t, types, events.AttackRapidSequence)
	for _, d := range ds {
		assert.Equal(t, "203.0.113.99", d.SrcIP)
		assert.Equal(t, ds[0].PassID, d.PassID)
	}
}

func TestAnalyze_OrderedByAddress(t *testing.T) {
	var alerts []events.Alert
	for _, ip := range []string{"203.0.113.9", "198.51.100.1"} {
		for i := 0; i < 5; i++ {
			alerts = append(alerts, alertAt(ip, "s", time.Duration(i)*time.Minute))
		}
	}
	ds := testEngine().Analyze(alerts)
	require.Len(t, ds, 2)
	assert.Equal(t, "198.51.100.1", ds[0].SrcIP)
	assert.Equal(t, "203.0.113.9", ds[1].SrcIP)
}

func TestSetters(t *testing.T) {
	e := testEngine()
	e.SetTimeWindow(15)
	e.SetAlertThreshold(10)
	e.SetSignatureThreshold(4)
	e.SetAlertThreshold(0)
	th := e.Thresholds()
	assert.Equal(t, 15*time.Minute, th.TimeWindow)
	assert.Equal(t, 10, th.AlertThreshold)
	assert.Equal(t, 4, th.SignatureThreshold)

	var alerts []events.Alert
	for i := 0; i < 6; i++ {
		alerts = append(alerts, alertAt("203.0.113.7", "s", time.Duration(i)*time.Minute))
	}
	assert.Empty(t, e.Analyze(alerts))
	e.SetAlertThreshold(6)
	assert.Len(t, e.Analyze(alerts), 1)
}

func TestAnalyze_DoesNotMutateInput(t *testing.T) {
	alerts := []events.Alert{
		alertAt("192.0.2.1", "c", 0),
		alertAt("192.0.2.1", "b", 10*time.Second),
		alertAt("192.0.2.1", "a", 20*time.Second),
	}
	before := append([]events.Alert(nil), alerts...)
	testEngine().Analyze(alerts)
	assert.Equal(t, before, alerts)
}
