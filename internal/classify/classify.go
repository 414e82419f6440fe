// Package classify maps document text to a category and priority using ordered keyword rules.
package classify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is drawn from a fixed enumerated set.
type Category string

const (
	CategorySafety      Category = "safety"
	CategoryCompliance  Category = "compliance"
	CategoryOperational Category = "operational"
	CategoryFinancial   Category = "financial"
	CategoryGeneral     Category = "general"
)

// Priority of a classified document.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownPriority = errors.New("unknown priority")
	ErrNoKeywords      = errors.New("rule has no keywords")
)

// Rule assigns Category and Priority when any keyword occurs in the text.
type Rule struct {
	Category Category `yaml:"category"`
	Priority Priority `yaml:"priority"`
	Keywords []string `yaml:"keywords"`
}

// DefaultRules is the built-in ordered rule list. First match wins.
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategorySafety, Priority: PriorityHigh, Keywords: []string{"safety", "accident", "emergency"}},
		{Category: CategoryCompliance, Priority: PriorityMedium, Keywords: []string{"compliance", "audit", "regulation"}},
		{Category: CategoryOperational, Priority: PriorityMedium, Keywords: []string{"maintenance", "repair", "technical"}},
		{Category: CategoryFinancial, Priority: PriorityLow, Keywords: []string{"budget", "finance", "cost"}},
	}
}

// Classifier applies rules in order against lower-cased text.
type Classifier struct {
	rules []Rule
}

// New validates rules and normalizes keywords to lower case.
func New(rules []Rule) (*Classifier, error) {
	normalized := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if !validCategory(r.Category) || r.Category == CategoryGeneral {
			return nil, fmt.Errorf("rule %d: %w: %q", i, ErrUnknownCategory, r.Category)
		}
		if !validPriority(r.Priority) {
			return nil, fmt.Errorf("rule %d: %w: %q", i, ErrUnknownPriority, r.Priority)
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Category, ErrNoKeywords)
		}
		normalized = append(normalized, Rule{Category: r.Category, Priority: r.Priority, Keywords: kws})
	}
	return &Classifier{rules: normalized}, nil
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the first rule whose keyword is a case-insensitive substring of text,
// or general/low when nothing matches.
func (c *Classifier) Classify(text string) (Category, Priority) {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Category, r.Priority
			}
		}
	}
	return CategoryGeneral, PriorityLow
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads an ordered rule list from a YAML file of the form:
//
//	rules:
//	  - category: safety
//	    priority: high
//	    keywords: [safety, accident]
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse classification rules %s: %w", path, err)
	}
	return f.Rules, nil
}

// FromFile builds a classifier from path, or the default classifier when path is empty.
func FromFile(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return New(rules)
}

// Categories lists every category Classify can return.
func Categories() []Category {
	return []Category{CategorySafety, CategoryCompliance, CategoryOperational, CategoryFinancial, CategoryGeneral}
}

func validCategory(c Category) bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

func validPriority(p Priority) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}
