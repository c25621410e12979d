package parser

import (
	"testing"
	"time"

	"mini-siem/pkg/events"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func testParser() *Parser {
	return New(WithClock(func() time.Time { return fixedNow }), WithLocation(time.UTC))
}

const fastLine = `06/15-10:30:45.123456 [**] [1:1000001:1] Potential SSH Brute Force [**] [Classification: Attempted Administrator Privilege Gain] [Priority: 1] {TCP} 203.0.113.7:51234 -> 10.0.0.1:22`

const csvLine = `2024-06-15T10:30:45.123456,1,1000001,1,"Potential SSH Brute Force",TCP,203.0.113.7,51234,10.0.0.1,22,4711,"Attempted Administrator Privilege Gain",1`

func TestParse_FastFormat(t *testing.T) {
	a, ok := testParser().Parse(fastLine)
	if !ok {
		t.Fatal("expected fast line to parse")
	}
	want := time.Date(2024, 6, 15, 10, 30, 45, 123456000, time.UTC)
	if !a.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", a.Timestamp, want)
	}
	if a.Signature != "Potential SSH Brute Force" {
		t.Errorf("signature = %q", a.Signature)
	}
	if a.Classification != "Attempted Administrator Privilege Gain" {
		t.Errorf("classification = %q", a.Classification)
	}
	if a.Severity != events.SeverityHigh || a.Priority != "1" {
		t.Errorf("severity = %s priority = %s", a.Severity, a.Priority)
	}
	if a.Protocol != "TCP" || a.SrcIP != "203.0.113.7" || a.SrcPort != 51234 || a.DstIP != "10.0.0.1" || a.DstPort != 22 {
		t.Errorf("endpoints = %s %s:%d -> %s:%d", a.Protocol, a.SrcIP, a.SrcPort, a.DstIP, a.DstPort)
	}
	if a.Message != fastLine {
		t.Errorf("message should carry the raw line, got %q", a.Message)
	}
	if a.Enrichment != nil {
		t.Error("parsed alert must not carry enrichment")
	}
}

func TestParse_CSVFormat(t *testing.T) {
	a, ok := testParser().Parse(csvLine)
	if !ok {
		t.Fatal("expected csv line to parse")
	}
	if a.Signature != "Potential SSH Brute Force" || a.Classification != "Attempted Administrator Privilege Gain" {
		t.Errorf("signature/classification = %q / %q", a.Signature, a.Classification)
	}
	if a.Message != "Potential SSH Brute Force - 203.0.113.7:51234 -> 10.0.0.1:22" {
		t.Errorf("message = %q", a.Message)
	}
	if a.SrcPort != 51234 || a.DstPort != 22 {
		t.Errorf("ports = %d %d", a.SrcPort, a.DstPort)
	}
}

func TestParse_GrammarsAgree(t *testing.T) {
	p := testParser()
	a, okA := p.Parse(fastLine)
	b, okB := p.Parse(csvLine)
	if !okA || !okB {
		t.Fatalf("parse ok = %v %v", okA, okB)
	}
	if a.Signature != b.Signature || a.SrcIP != b.SrcIP || a.DstIP != b.DstIP || a.Severity != b.Severity {
		t.Errorf("grammar results differ: %+v vs %+v", a, b)
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		t.Errorf("timestamps differ: %v vs %v", a.Timestamp, b.Timestamp)
	}
}

func TestParse_UnmappedPriorityIsInfo(t *testing.T) {
	p := testParser()
	for _, prio := range []string{"0", "4", "5", "17"} {
		line := `06/15-10:30:45.1 [**] [1:2:3] Odd Rule [**] [Classification: Misc] [Priority: ` + prio + `] {UDP} 198.51.100.1:53 -> 10.0.0.1:53`
		a, ok := p.Parse(line)
		if !ok {
			t.Fatalf("priority %s: no match", prio)
		}
		if a.Severity != events.SeverityInfo {
			t.Errorf("priority %s: severity = %s, want INFO", prio, a.Severity)
		}
	}
	csvNoPrio := `2024-06-15 10:30:45,1,2,3,"Odd Rule",UDP,198.51.100.1,53,10.0.0.1,53,1,Misc,`
	a, ok := p.Parse(csvNoPrio)
	if !ok || a.Severity != events.SeverityInfo {
		t.Errorf("absent priority: ok=%v severity=%s", ok, a.Severity)
	}
}

func TestParse_NoMatch(t *testing.T) {
	p := testParser()
	lines := []string{
		"",
		"   ",
		"garbage line from a half-written write",
		`06/15-10:30:45.123456 [**] [1:1000001:1] SSH [**] [Classification: x] [Priority: 1] {TCP} 203.0.113.7:abc -> 10.0.0.1:22`,
		`06/15-10:30:45.123456 [**] [1:1000001:1] SSH [**] [Classification: x] [Priority: 1] {TCP} 203.0.113.7:1 -> 10.0.0.1:2x`,
		`2024-06-15T10:30:45,1,2,3,msg,TCP,1.2.3.4,80,5.6.7.8,443,1,cls`,
		`2024-06-15T10:30:45,1,2,3,msg,TCP,1.2.3.4,http,5.6.7.8,443,1,cls,2`,
		`timestamp,sig_generator,sig_id,sig_rev,msg,proto,src,srcport,dst,dstport,id,classification,priority`,
	}
	for _, l := range lines {
		if a, ok := p.Parse(l); ok {
			t.Errorf("expected no match for %q, got %+v", l, a)
		}
	}
}

func TestParse_CSVEmptyPortsAreZero(t *testing.T) {
	a, ok := testParser().Parse(`2024-06-15T10:30:45,1,384,5,"ICMP PING",ICMP,198.51.100.9,,10.0.0.1,,99,"Misc activity",3`)
	if !ok {
		t.Fatal("expected match")
	}
	if a.SrcPort != 0 || a.DstPort != 0 {
		t.Errorf("ports = %d %d, want 0 0", a.SrcPort, a.DstPort)
	}
	if a.Severity != events.SeverityLow {
		t.Errorf("severity = %s", a.Severity)
	}
}

func TestParse_FastICMPWithoutPorts(t *testing.T) {
	line := `06/15-09:00:00.000001 [**] [1:384:5] ICMP PING [**] [Classification: Misc activity] [Priority: 3] {ICMP} 198.51.100.9 -> 10.0.0.1`
	a, ok := testParser().Parse(line)
	if !ok {
		t.Fatal("expected match")
	}
	if a.Protocol != "ICMP" || a.SrcPort != 0 || a.DstPort != 0 {
		t.Errorf("got %+v", a)
	}
}

func TestParse_YearRollover(t *testing.T) {
	jan := time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)
	p := New(WithClock(func() time.Time { return jan }), WithLocation(time.UTC))
	a, ok := p.Parse(`12/31-23:59:58.5 [**] [1:1:1] Late [**] [Classification: x] [Priority: 2] {TCP} 1.2.3.4:1 -> 5.6.7.8:2`)
	if !ok {
		t.Fatal("expected match")
	}
	if a.Timestamp.Year() != 2024 {
		t.Errorf("year = %d, want 2024", a.Timestamp.Year())
	}
}

func TestParse_ExplicitYear(t *testing.T) {
	a, ok := testParser().Parse(`03/02/23-08:00:00.0 [**] [1:1:1] Old [**] [Classification: x] [Priority: 2] {TCP} 1.2.3.4:1 -> 5.6.7.8:2`)
	if !ok {
		t.Fatal("expected match")
	}
	want := time.Date(2023, 3, 2, 8, 0, 0, 0, time.UTC)
	if !a.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", a.Timestamp, want)
	}
}

func TestGrammarOrder(t *testing.T) {
	got := New().Grammars()
	if len(got) != 2 || got[0] != "fast" || got[1] != "csv" {
		t.Errorf("grammars = %v", got)
	}
}
