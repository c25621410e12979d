package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"mini-siem/pkg/events"
)

// Rule drops every alert its condition matches.
type Rule struct {
	ID          string
	Description string
	Cond        Condition
}

// ruleFile is the YAML layout. A rule gives either a full condition tree or a
// match map of "field|modifier: value" entries that must all hold; any is a
// list of such maps of which one must hold.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID          string              `yaml:"id"`
	Description string              `yaml:"description"`
	Condition   *Condition          `yaml:"condition"`
	Match       map[string]string   `yaml:"match"`
	Any         []map[string]string `yaml:"any"`
}

// parseSelection converts a map of field|modifier: value to an and-condition.
func parseSelection(sel map[string]string) *Condition {
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var children []Condition
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 2)
		modifier := "eq"
		if len(parts) == 2 {
			modifier = strings.TrimSpace(parts[1])
		}
		children = append(children, Condition{Op: modifier, Field: strings.TrimSpace(parts[0]), Value: sel[k]})
	}
	switch len(children) {
	case 0:
		return nil
	case 1:
		return &children[0]
	default:
		return &Condition{Op: "and", Children: children}
	}
}

func (s ruleSpec) compile() (Rule, error) {
	var cond *Condition
	switch {
	case s.Condition != nil:
		cond = s.Condition
	case len(s.Match) > 0:
		cond = parseSelection(s.Match)
	case len(s.Any) > 0:
		var children []Condition
		for _, m := range s.Any {
			if c := parseSelection(m); c != nil {
				children = append(children, *c)
			}
		}
		cond = &Condition{Op: "or", Children: children}
	}
	if cond == nil {
		return Rule{}, fmt.Errorf("rule %q: no condition", s.ID)
	}
	if err := cond.compile(); err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", s.ID, err)
	}
	return Rule{ID: s.ID, Description: s.Description, Cond: *cond}, nil
}

// Parse compiles the rules in one YAML document.
func Parse(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("filter yaml: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for i, s := range f.Rules {
		if s.ID == "" {
			s.ID = fmt.Sprintf("rule-%d", i+1)
		}
		r, err := s.compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadFile loads and compiles a single YAML rule file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Load reads path as a rule file, or every .yml/.yaml file in it if it is a directory.
func Load(path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return LoadFile(path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			continue
		}
		rs, err := LoadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		rules = append(rules, rs...)
	}
	return rules, nil
}

// Filter evaluates drop rules. Rules can be replaced while in use.
type Filter struct {
	mu    sync.RWMutex
	rules []Rule
}

// New returns a filter over rules.
func New(rules []Rule) *Filter {
	return &Filter{rules: rules}
}

// SetRules replaces all rules.
func (f *Filter) SetRules(rules []Rule) {
	f.mu.Lock()
	f.rules = rules
	f.mu.Unlock()
}

// Len returns the number of rules.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rules)
}

// Drop returns the ID of the first rule matching a, if any. A nil filter drops nothing.
func (f *Filter) Drop(a *events.Alert) (string, bool) {
	if f == nil {
		return "", false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rules) == 0 {
		return "", false
	}
	fields := alertFields(a)
	for i := range f.rules {
		if f.rules[i].Cond.Eval(fields) {
			return f.rules[i].ID, true
		}
	}
	return "", false
}
