package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
)

type analysisRequest struct {
	Text string `json:"text"`
}

type analysisResponse struct {
	RiskLevel  string   `json:"risk_level"`
	Confidence *float64 `json:"confidence"`
}

// HTTPAnalyzer calls a remote sentiment/risk endpoint.
type HTTPAnalyzer struct {
	client *resty.Client
	logger *zap.SugaredLogger
}

// NewHTTPAnalyzer posts {"text": ...} to url and expects
// {"risk_level": "...", "confidence": 0.0-1.0}. No retries: the classifier
// falls back instead of waiting.
func NewHTTPAnalyzer(url string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPAnalyzer {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPAnalyzer{client: client, logger: logger}
}

// Analyze implements ExternalAnalyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, text string) (*models.AnalysisResult, error) {
	var out analysisResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(analysisRequest{Text: text}).
		SetResult(&out).
		Post("")
	if err != nil {
		return nil, fmt.Errorf("call analysis service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("analysis service returned %d", resp.StatusCode())
	}

	a.logger.Debugw("External analysis completed",
		"risk_level", out.RiskLevel,
		"latency", resp.Time(),
	)
	return &models.AnalysisResult{
		RiskLevel:  out.RiskLevel,
		Confidence: out.Confidence,
		Raw:        resp.Body(),
	}, nil
}
