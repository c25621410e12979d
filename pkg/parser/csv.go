package parser

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"mini-siem/pkg/events"
)

// Field positions of Snort's alert_csv default output:
// timestamp,sig_generator,sig_id,sig_rev,msg,proto,src,srcport,dst,dstport,id,classification,priority
const (
	csvTimestamp      = 0
	csvMsg            = 4
	csvProto          = 5
	csvSrc            = 6
	csvSrcPort        = 7
	csvDst            = 8
	csvDstPort        = 9
	csvClassification = 11
	csvPriority       = 12
	csvFields         = 13
)

var csvTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// CSVGrammar parses comma-delimited alerts with quoted fields.
type CSVGrammar struct {
	loc *time.Location
}

func (g *CSVGrammar) Name() string { return "csv" }

func (g *CSVGrammar) Parse(line string) (events.Alert, bool) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	f, err := r.Read()
	if err != nil || len(f) < csvFields {
		return events.Alert{}, false
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}
	ts, ok := g.timestamp(f[csvTimestamp])
	if !ok {
		return events.Alert{}, false
	}
	if f[csvSrc] == "" || f[csvDst] == "" {
		return events.Alert{}, false
	}
	srcPort, ok := parsePort(f[csvSrcPort])
	if !ok {
		return events.Alert{}, false
	}
	dstPort, ok := parsePort(f[csvDstPort])
	if !ok {
		return events.Alert{}, false
	}
	return events.Alert{
		Timestamp:      ts,
		Signature:      f[csvMsg],
		Classification: f[csvClassification],
		Priority:       f[csvPriority],
		Severity:       events.SeverityFromPriority(f[csvPriority]),
		Protocol:       strings.ToUpper(f[csvProto]),
		SrcIP:          f[csvSrc],
		SrcPort:        srcPort,
		DstIP:          f[csvDst],
		DstPort:        dstPort,
		Message: fmt.Sprintf("%s - %s:%s -> %s:%s",
			f[csvMsg], f[csvSrc], f[csvSrcPort], f[csvDst], f[csvDstPort]),
	}, true
}

func (g *CSVGrammar) timestamp(s string) (time.Time, bool) {
	loc := g.loc
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
