package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
)

var classifierTracer = otel.Tracer("triage/classifier")

// ExternalAnalyzer is a remote sentiment/risk model. Calls are best-effort.
type ExternalAnalyzer interface {
	Analyze(ctx context.Context, text string) (*models.AnalysisResult, error)
}

// ClassifierConfig tunes the external analysis path.
type ClassifierConfig struct {
	// AnalysisTimeout bounds each external call. Zero means 2s.
	AnalysisTimeout time.Duration
	// MinConfidence is the lowest reported confidence accepted from the
	// external model. Results without a confidence pass when it is zero.
	MinConfidence float64
}

// RiskClassifier maps message text onto a risk level.
type RiskClassifier struct {
	policy   *KeywordPolicy
	analyzer ExternalAnalyzer
	cfg      ClassifierConfig
	metrics  *TriageMetrics
	logger   *zap.SugaredLogger
}

// NewRiskClassifier creates a classifier. analyzer and metrics may be nil.
func NewRiskClassifier(policy *KeywordPolicy, analyzer ExternalAnalyzer, cfg ClassifierConfig, metrics *TriageMetrics, logger *zap.SugaredLogger) *RiskClassifier {
	if policy == nil {
		policy = DefaultKeywordPolicy()
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RiskClassifier{policy: policy, analyzer: analyzer, cfg: cfg, metrics: metrics, logger: logger}
}

// PolicyVersion reports the active keyword policy version.
func (c *RiskClassifier) PolicyVersion() string {
	return c.policy.Version
}

// Classify returns the level for text. A usable external result wins;
// otherwise keyword rules are checked in priority order and no match means low.
func (c *RiskClassifier) Classify(text string, ext *models.AnalysisResult) (models.RiskLevel, error) {
	level, _, err := c.classify(text, ext)
	return level, err
}

func (c *RiskClassifier) classify(text string, ext *models.AnalysisResult) (models.RiskLevel, models.RiskSource, error) {
	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("%w: message text is empty", ErrInvalidInput)
	}
	if level, ok := c.usable(ext); ok {
		return level, models.SourceExternal, nil
	}
	if level, _, ok := c.policy.Match(text); ok {
		return level, models.SourceKeyword, nil
	}
	// absence of signal is not evidence of safety
	return models.RiskLow, models.SourceKeyword, nil
}

func (c *RiskClassifier) usable(ext *models.AnalysisResult) (models.RiskLevel, bool) {
	if ext == nil || ext.RiskLevel == "" {
		return "", false
	}
	level, err := models.ParseRiskLevel(ext.RiskLevel)
	if err != nil {
		return "", false
	}
	if c.cfg.MinConfidence > 0 && ext.Confidence != nil && *ext.Confidence < c.cfg.MinConfidence {
		return "", false
	}
	return level, true
}

// ClassifyMessage consults the external analyzer, if any, under a timeout and
// then classifies. Analyzer failures are logged and counted, never returned.
func (c *RiskClassifier) ClassifyMessage(ctx context.Context, text string) (models.RiskLevel, models.RiskSource, error) {
	ctx, span := classifierTracer.Start(ctx, "classifier.classify")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return "", "", fmt.Errorf("%w: message text is empty", ErrInvalidInput)
	}

	var ext *models.AnalysisResult
	if c.analyzer != nil {
		var err error
		ext, err = c.analyze(ctx, text)
		if err != nil {
			reason := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			c.metrics.ObserveDegraded(reason)
			c.logger.Warnw("External analysis degraded, using keyword fallback",
				"reason", reason,
				"error", err,
			)
			ext = nil
		} else if _, ok := c.usable(ext); !ok {
			c.metrics.ObserveDegraded("unusable")
			c.logger.Debugw("External analysis result unusable", "risk_level", ext.RiskLevel)
		}
	}

	level, source, err := c.classify(text, ext)
	if err != nil {
		return "", "", err
	}
	span.SetAttributes(
		attribute.String("triage.risk_level", string(level)),
		attribute.String("triage.risk_source", string(source)),
	)
	c.metrics.ObserveClassification(level, source)
	return level, source, nil
}

func (c *RiskClassifier) analyze(ctx context.Context, text string) (*models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AnalysisTimeout)
	defer cancel()

	type result struct {
		res *models.AnalysisResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := c.analyzer.Analyze(ctx, text)
		done <- result{res, err}
	}()

	// an analyzer that ignores ctx must not hold up the caller past the deadline
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExternalServiceDegraded, r.err)
		}
		if r.res == nil {
			return nil, fmt.Errorf("%w: empty result", ErrExternalServiceDegraded)
		}
		return r.res, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrExternalServiceDegraded, ctx.Err())
	}
}
