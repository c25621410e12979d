package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"mini-siem/pkg/events"
)

// fastRe matches Snort's alert_fast layout:
//
//	01/15-10:30:45.123456 [**] [1:1000001:1] msg [**] [Classification: c] [Priority: 1] {TCP} 1.2.3.4:5555 -> 10.0.0.1:22
//
// The date may carry a two-digit year (snort -y). ICMP lines have no ports.
var fastRe = regexp.MustCompile(
	`(\d{2}/\d{2}(?:/\d{2})?-\d{2}:\d{2}:\d{2}\.\d+)\s+\[\*\*\]\s+\[[\d:]+\]\s+([^\[]+?)\s+\[\*\*\]\s+` +
		`(?:\[Classification:\s*([^\]]+)\]\s+)?\[Priority:\s*(\d+)\]\s+\{([A-Za-z0-9-]+)\}\s+` +
		`([0-9.]+)(?::(\d+))?\s+->\s+([0-9.]+)(?::(\d+))?\s*$`)

const (
	fastLayout     = "01/02-15:04:05"
	fastYearLayout = "01/02/06-15:04:05"
)

// FastGrammar parses the human-readable fast-alert layout.
type FastGrammar struct {
	now func() time.Time
	loc *time.Location
}

func (g *FastGrammar) Name() string { return "fast" }

func (g *FastGrammar) Parse(line string) (events.Alert, bool) {
	m := fastRe.FindStringSubmatch(line)
	if m == nil {
		return events.Alert{}, false
	}
	ts, ok := g.timestamp(m[1])
	if !ok {
		return events.Alert{}, false
	}
	srcPort, ok := parsePort(m[7])
	if !ok {
		return events.Alert{}, false
	}
	dstPort, ok := parsePort(m[9])
	if !ok {
		return events.Alert{}, false
	}
	return events.Alert{
		Timestamp:      ts,
		Signature:      strings.TrimSpace(m[2]),
		Classification: strings.TrimSpace(m[3]),
		Priority:       m[4],
		Severity:       events.SeverityFromPriority(m[4]),
		Protocol:       strings.ToUpper(m[5]),
		SrcIP:          m[6],
		SrcPort:        srcPort,
		DstIP:          m[8],
		DstPort:        dstPort,
		Message:        strings.TrimSpace(line),
	}, true
}

// timestamp anchors a year-less stamp to the clock's year, stepping back a
// year when that would land more than a day in the future (December lines
// read in January).
func (g *FastGrammar) timestamp(s string) (time.Time, bool) {
	loc := g.loc
	if loc == nil {
		loc = time.Local
	}
	if strings.Count(s, "/") == 2 {
		t, err := time.ParseInLocation(fastYearLayout, s, loc)
		return t, err == nil
	}
	t, err := time.ParseInLocation(fastLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	ref := now().In(loc)
	ts := time.Date(ref.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	if ts.Sub(ref) > 24*time.Hour {
		ts = ts.AddDate(-1, 0, 0)
	}
	return ts, true
}

// parsePort accepts an empty field as port 0.
func parsePort(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 65535 {
		return 0, false
	}
	return n, true
}
