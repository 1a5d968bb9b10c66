package keyword

import (
	"fmt"
	"regexp"
	"strings"
)

// A user-configured word to look for in profile text ("bio-block").
type Pattern struct {
	Word string `json:"word"`
	// Word is a regular expression (always matched case-insensitively)
	Regexp  bool `json:"regexp,omitempty"`
	Enabled bool `json:"enabled"`
}

type compiled struct {
	pattern Pattern
	re      *regexp.Regexp
	folded  string
}

// Matcher checks text against a fixed list of patterns. Disabled patterns are
// dropped at construction time.
type Matcher struct {
	patterns []compiled
}

func NewMatcher(patterns []Pattern) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		if !p.Enabled || strings.TrimSpace(p.Word) == "" {
			continue
		}
		c := compiled{pattern: p}
		if p.Regexp {
			re, err := regexp.Compile("(?i)" + p.Word)
			if err != nil {
				return nil, fmt.Errorf("invalid keyword pattern %q: %w", p.Word, err)
			}
			c.re = re
		} else {
			c.folded = Normalize(p.Word)
		}
		m.patterns = append(m.patterns, c)
	}
	return m, nil
}

// Empty reports whether the matcher has no enabled patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

// Match returns the first pattern found in text.
func (m *Matcher) Match(text string) (*Pattern, bool) {
	if m.Empty() || text == "" {
		return nil, false
	}
	var folded string
	for i := range m.patterns {
		c := &m.patterns[i]
		if c.re != nil {
			if c.re.MatchString(text) {
				return &c.pattern, true
			}
			continue
		}
		if folded == "" {
			folded = Normalize(text)
		}
		if strings.Contains(folded, c.folded) {
			return &c.pattern, true
		}
	}
	return nil, false
}

// MatchAny checks each text in order, returning the first hit.
func (m *Matcher) MatchAny(texts ...string) (*Pattern, bool) {
	for _, t := range texts {
		if p, ok := m.Match(t); ok {
			return p, true
		}
	}
	return nil, false
}
