package models

import (
	"fmt"
	"strings"
)

// RiskLevel is the severity assigned to a requester message.
// The zero value means the message has not been classified.
type RiskLevel string

const (
	RiskMinimal RiskLevel = "minimal"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// RiskLevels lists every level in ascending severity.
var RiskLevels = []RiskLevel{RiskMinimal, RiskLow, RiskMedium, RiskHigh}

// Severity orders levels: minimal < low < medium < high.
// Unclassified and unknown values sort below minimal.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskMinimal:
		return 1
	case RiskLow:
		return 2
	case RiskMedium:
		return 3
	case RiskHigh:
		return 4
	default:
		return 0
	}
}

// Valid reports whether l is one of the four defined levels.
func (l RiskLevel) Valid() bool {
	return l.Severity() > 0
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Severity() >= other.Severity()
}

// MaxRisk returns the more severe of a and b.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// ParseRiskLevel maps a case-insensitive level name onto the enum.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// RiskSource records which classifier path produced a level.
type RiskSource string

const (
	SourceKeyword  RiskSource = "keyword"
	SourceExternal RiskSource = "external"
)
