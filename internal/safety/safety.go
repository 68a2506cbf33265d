// Package safety decides whether a synthesized SQL statement may run. A
// keyword screen acts as a hard veto on the combined verdict; a model-based
// assessment supplies the risk level and advice.
package safety

import (
	"fmt"
	"strings"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func ParseRiskLevel(value string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(value))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	default:
		return "", false
	}
}

// Keyword order matters: the first keyword found names the warning.
var dangerousKeywords = []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT", "UPDATE"}

type RuleVerdict struct {
	Safe                 bool   `json:"safe"`
	Warning              string `json:"warning,omitempty"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

// Screen flags any dangerous keyword contained anywhere in the upper-cased
// text. Containment is deliberate: identifiers such as "created_at" also trip
// the screen.
func Screen(sqlText string) RuleVerdict {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	for _, keyword := range dangerousKeywords {
		if strings.Contains(upper, keyword) {
			return RuleVerdict{
				Safe:                 false,
				Warning:              fmt.Sprintf("Query contains potentially dangerous operation: %s", keyword),
				RequiresConfirmation: true,
			}
		}
	}
	return RuleVerdict{Safe: true}
}

type Verdict struct {
	IsSafe          bool      `json:"is_safe"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Warnings        []string  `json:"warnings"`
	Recommendations []string  `json:"recommendations"`
}

// Blocks reports whether the verdict rejects execution outright. Unsafe
// statements below high risk only carry warnings.
func (v Verdict) Blocks() bool {
	return !v.IsSafe && v.RiskLevel == RiskHigh
}

// ModelVerdict is the model's own opinion. Safe is nil when the model omitted it.
type ModelVerdict struct {
	Safe            *bool    `json:"safe"`
	RiskLevel       string   `json:"risk_level"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
	Mocked          bool     `json:"-"`
}

func (m ModelVerdict) IsSafe() bool {
	return m.Safe == nil || *m.Safe
}
