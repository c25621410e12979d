// Package filter drops known-benign alerts before they are enriched and stored.
package filter

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"mini-siem/pkg/events"
)

// Condition is a tree of conditions (and/or/not with field comparisons).
type Condition struct {
	Op       string      `yaml:"op" json:"op"` // "and", "or", "not", or a field op
	Field    string      `yaml:"field,omitempty" json:"field,omitempty"`
	Value    string      `yaml:"value,omitempty" json:"value,omitempty"`
	Children []Condition `yaml:"children,omitempty" json:"children,omitempty"`

	re     *regexp.Regexp
	prefix netip.Prefix
}

// Fields that conditions may reference.
var knownFields = map[string]bool{
	"signature": true, "classification": true, "priority": true, "severity": true,
	"protocol": true, "src_ip": true, "src_port": true, "dst_ip": true, "dst_port": true,
	"message": true,
}

// compile validates the tree and prepares regex and CIDR operands.
func (c *Condition) compile() error {
	switch c.Op {
	case "and", "or", "not":
		if len(c.Children) == 0 {
			return fmt.Errorf("%s without children", c.Op)
		}
		if c.Op == "not" && len(c.Children) != 1 {
			return fmt.Errorf("not takes exactly one child")
		}
		for i := range c.Children {
			if err := c.Children[i].compile(); err != nil {
				return err
			}
		}
		return nil
	}
	if !knownFields[c.Field] {
		return fmt.Errorf("unknown field %q", c.Field)
	}
	switch c.Op {
	case "contains", "startswith", "endswith", "eq", "equals":
	case "re", "regex":
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", c.Field, err)
		}
		c.re = re
	case "cidr":
		p, err := netip.ParsePrefix(c.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", c.Field, err)
		}
		c.prefix = p.Masked()
	default:
		return fmt.Errorf("unknown op %q", c.Op)
	}
	return nil
}

// Eval evaluates the condition against the alert's fields.
func (c *Condition) Eval(fields map[string]string) bool {
	switch c.Op {
	case "and":
		for i := range c.Children {
			if !c.Children[i].Eval(fields) {
				return false
			}
		}
		return true
	case "or":
		for i := range c.Children {
			if c.Children[i].Eval(fields) {
				return true
			}
		}
		return false
	case "not":
		return len(c.Children) == 1 && !c.Children[0].Eval(fields)
	default:
		return c.evalField(fields)
	}
}

func (c *Condition) evalField(fields map[string]string) bool {
	s, ok := fields[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case "contains":
		return strings.Contains(strings.ToLower(s), strings.ToLower(c.Value))
	case "endswith":
		return strings.HasSuffix(s, c.Value)
	case "startswith":
		return strings.HasPrefix(s, c.Value)
	case "eq", "equals":
		return strings.EqualFold(s, c.Value)
	case "re", "regex":
		return c.re != nil && c.re.MatchString(s)
	case "cidr":
		addr, err := netip.ParseAddr(s)
		return err == nil && c.prefix.IsValid() && c.prefix.Contains(addr.Unmap())
	default:
		return false
	}
}

func alertFields(a *events.Alert) map[string]string {
	return map[string]string{
		"signature":      a.Signature,
		"classification": a.Classification,
		"priority":       a.Priority,
		"severity":       string(a.Severity),
		"protocol":       a.Protocol,
		"src_ip":         a.SrcIP,
		"src_port":       strconv.Itoa(a.SrcPort),
		"dst_ip":         a.DstIP,
		"dst_port":       strconv.Itoa(a.DstPort),
		"message":        a.Message,
	}
}
