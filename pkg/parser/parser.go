// Package parser turns raw IDS log lines into alerts.
//
// Grammars are tried in a fixed order; the first one that accepts a line wins.
// A line no grammar accepts is reported as no match, never as an error.
package parser

import (
	"strings"
	"time"

	"mini-siem/pkg/events"
)

// Grammar is one supported line layout.
type Grammar interface {
	Name() string
	Parse(line string) (events.Alert, bool)
}

// Parser holds the ordered grammar list.
type Parser struct {
	grammars []Grammar
}

// Option customizes a Parser.
type Option func(*options)

type options struct {
	now func() time.Time
	loc *time.Location
}

// WithClock sets the clock used to place year-less timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the zone for timestamps that carry none. Default time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// New returns a parser trying the fast-alert grammar first, then CSV.
func New(opts ...Option) *Parser {
	o := options{now: time.Now, loc: time.Local}
	for _, fn := range opts {
		fn(&o)
	}
	return &Parser{grammars: []Grammar{
		&FastGrammar{now: o.now, loc: o.loc},
		&CSVGrammar{loc: o.loc},
	}}
}

// Parse returns the alert for line, or false if no grammar accepts it.
func (p *Parser) Parse(line string) (events.Alert, bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return events.Alert{}, false
	}
	for _, g := range p.grammars {
		if a, ok := g.Parse(line); ok {
			return a, true
		}
	}
	return events.Alert{}, false
}

// Grammars lists the grammar names in the order they are tried.
func (p *Parser) Grammars() []string {
	out := make([]string, 0, len(p.grammars))
	for _, g := range p.grammars {
		out = append(out, g.Name())
	}
	return out
}

var defaultParser = New()

// Parse parses line with the default grammar order and local time.
func Parse(line string) (events.Alert, bool) {
	return defaultParser.Parse(line)
}
