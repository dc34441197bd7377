// Package normalize turns raw statement text into stable vendor descriptions.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/Veraticus/expensetrack/internal/scoring"
	"gopkg.in/yaml.v3"
)

// ErrEmptyText is returned when there is nothing to normalize.
var ErrEmptyText = errors.New("empty description")

// Rule maps descriptions matching Pattern to a canonical vendor.
// Patterns are case-insensitive regular expressions.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Vendor  string `yaml:"vendor"`
	// Generic rules name a kind of expense rather than a vendor. They are used
	// for vendor extraction but never replace a description.
	Generic bool `yaml:"generic,omitempty"`
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	re *regexp.Regexp
	Rule
}

// Normalizer applies an ordered rule table. The first matching rule wins.
type Normalizer struct {
	rules []compiledRule
}

// processorPrefixes are payment processor and airport code prefixes that
// precede the merchant name on card statements.
var processorPrefixes = []string{"PAYPAL", "SQ", "TST", "DNH", "PY", "DMI", "IAH", "ATL", "MSY", "DFW", "RDU"}

// New compiles rules into a Normalizer.
func New(rules []Rule) (*Normalizer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(rule.Pattern) == "" || strings.TrimSpace(rule.Vendor) == "" {
			return nil, fmt.Errorf("rule %d: pattern and vendor are required", i+1)
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i+1, rule.Pattern, err)
		}
		compiled = append(compiled, compiledRule{Rule: rule, re: re})
	}
	return &Normalizer{rules: compiled}, nil
}

// Default returns a Normalizer over the built-in rule table.
func Default() *Normalizer {
	n, err := New(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("built-in normalization rules are invalid: %v", err))
	}
	return n
}

// Load builds a Normalizer from a YAML rules file. An empty path yields the
// built-in table. Rules from the file are consulted before the built-in ones.
func Load(path string) (*Normalizer, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalization rules: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse normalization rules: %w", err)
	}

	return New(append(file.Rules, DefaultRules()...))
}

// Vendor returns the canonical vendor for a description, if a rule matches.
func (n *Normalizer) Vendor(description string) (string, bool) {
	rule, ok := n.match(description)
	if !ok {
		return "", false
	}
	return rule.Vendor, true
}

// ExtractVendor returns the canonical vendor for a description, falling back
// to its first two significant words.
func (n *Normalizer) ExtractVendor(description string) string {
	if vendor, ok := n.Vendor(description); ok {
		return vendor
	}

	words := significantWords(description)
	switch len(words) {
	case 0:
		return "Unknown"
	case 1:
		return words[0]
	default:
		return words[0] + " " + words[1]
	}
}

// Normalize implements service.Normalizer. Descriptions naming a known
// vendor collapse to that vendor; others are upper-cased with reference
// numbers and processor prefixes removed.
func (n *Normalizer) Normalize(ctx context.Context, rawText, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(rawText) == "" {
		return "", ErrEmptyText
	}

	if rule, ok := n.match(rawText); ok && !rule.Generic {
		return rule.Vendor, nil
	}

	words := significantWords(rawText)
	if len(words) == 0 {
		return scoring.Normalize(rawText), nil
	}
	return strings.Join(words, " "), nil
}

func (n *Normalizer) match(description string) (compiledRule, bool) {
	for _, rule := range n.rules {
		if rule.re.MatchString(description) {
			return rule, true
		}
	}
	return compiledRule{}, false
}

// significantWords upper-cases text, drops tokens carrying digits and strips
// a leading processor prefix.
func significantWords(text string) []string {
	var words []string
	for _, token := range strings.Fields(scoring.Normalize(text)) {
		if strings.IndexFunc(token, unicode.IsDigit) >= 0 {
			continue
		}
		words = append(words, token)
	}

	if len(words) > 1 {
		for _, prefix := range processorPrefixes {
			if words[0] == prefix {
				return words[1:]
			}
		}
	}
	return words
}
