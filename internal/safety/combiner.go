package safety

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

const (
	recommendManualReview   = "Manual review recommended"
	recommendManualRequired = "Manual review required"
	unknownSafetyIssue      = "Unknown safety issue"
)

// Assessor produces the model layer of a verdict.
type Assessor interface {
	AssessSafety(ctx context.Context, sqlText, model string) (ModelVerdict, error)
}

type Combiner struct {
	assessor Assessor
	logger   *slog.Logger
}

func NewCombiner(assessor Assessor, logger *slog.Logger) *Combiner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Combiner{assessor: assessor, logger: logger}
}

// Assess merges the keyword screen with the model assessment. It never panics.
func (c *Combiner) Assess(ctx context.Context, sqlText, model string) (verdict Verdict) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("safety assessment panicked", slog.Any("panic", recovered))
			verdict = Verdict{
				IsSafe:          false,
				RiskLevel:       RiskHigh,
				Warnings:        []string{fmt.Sprintf("Validation error: %v", recovered)},
				Recommendations: []string{recommendManualRequired},
			}
		}
	}()

	rule := Screen(sqlText)

	var (
		modelVerdict ModelVerdict
		err          error
	)
	if c.assessor == nil {
		err = fmt.Errorf("no safety assessor configured")
	} else {
		modelVerdict, err = c.assessor.AssessSafety(ctx, sqlText, model)
	}
	if err != nil {
		c.logger.Warn("model safety assessment unavailable", slog.Any("error", err))
		warning := rule.Warning
		if warning == "" {
			warning = unknownSafetyIssue
		}
		return Verdict{
			IsSafe:          rule.Safe,
			RiskLevel:       RiskMedium,
			Warnings:        []string{warning},
			Recommendations: []string{recommendManualReview},
		}
	}

	warnings := make([]string, 0, len(modelVerdict.Warnings)+1)
	if !rule.Safe {
		warnings = append(warnings, rule.Warning)
	}
	warnings = append(warnings, modelVerdict.Warnings...)

	recommendations := make([]string, 0, len(modelVerdict.Recommendations))
	recommendations = append(recommendations, modelVerdict.Recommendations...)

	risk, ok := ParseRiskLevel(modelVerdict.RiskLevel)
	if !ok {
		risk = RiskMedium
	}

	return Verdict{
		IsSafe:          rule.Safe && modelVerdict.IsSafe(),
		RiskLevel:       risk,
		Warnings:        warnings,
		Recommendations: recommendations,
	}
}
