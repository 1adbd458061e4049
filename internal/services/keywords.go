package services

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mindcare/triage-server/internal/models"
)

//go:embed default_keywords.yaml
var defaultPolicyYAML []byte

// KeywordRule maps a set of keywords onto one risk level.
type KeywordRule struct {
	Level    models.RiskLevel `yaml:"level" json:"level"`
	Keywords []string         `yaml:"keywords" json:"keywords"`
}

// KeywordPolicy is the versioned, ordered keyword configuration. Rule order
// is the match priority.
type KeywordPolicy struct {
	Version string        `yaml:"version" json:"version"`
	Rules   []KeywordRule `yaml:"rules" json:"rules"`
}

// DefaultKeywordPolicy returns the embedded sample policy.
func DefaultKeywordPolicy() *KeywordPolicy {
	p, err := ParseKeywordPolicy(defaultPolicyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded keyword policy: %v", err))
	}
	return p
}

// LoadKeywordPolicy reads a policy file, or returns the default when path is empty.
func LoadKeywordPolicy(path string) (*KeywordPolicy, error) {
	if path == "" {
		return DefaultKeywordPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword policy: %w", err)
	}
	return ParseKeywordPolicy(raw)
}

// ParseKeywordPolicy decodes and validates a YAML policy. Keywords are
// lowercased and trimmed so matching can be case-insensitive.
func ParseKeywordPolicy(raw []byte) (*KeywordPolicy, error) {
	var p KeywordPolicy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse keyword policy: %w", err)
	}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *KeywordPolicy) normalize() error {
	if p.Version == "" {
		return fmt.Errorf("keyword policy: version is required")
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("keyword policy %s: no rules", p.Version)
	}
	seen := make(map[models.RiskLevel]bool, len(p.Rules))
	for i := range p.Rules {
		r := &p.Rules[i]
		level, err := models.ParseRiskLevel(string(r.Level))
		if err != nil {
			return fmt.Errorf("keyword policy %s rule %d: %w", p.Version, i, err)
		}
		if seen[level] {
			return fmt.Errorf("keyword policy %s: level %s listed twice", p.Version, level)
		}
		seen[level] = true
		r.Level = level

		if len(r.Keywords) == 0 {
			return fmt.Errorf("keyword policy %s rule %s: no keywords", p.Version, level)
		}
		for j, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				return fmt.Errorf("keyword policy %s rule %s: empty keyword at %d", p.Version, level, j)
			}
			r.Keywords[j] = kw
		}
	}
	return nil
}

// Match returns the level of the first rule with a keyword contained in text,
// along with the keyword that hit.
func (p *KeywordPolicy) Match(text string) (models.RiskLevel, string, bool) {
	lowered := strings.ToLower(text)
	for _, r := range p.Rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lowered, kw) {
				return r.Level, kw, true
			}
		}
	}
	return "", "", false
}
