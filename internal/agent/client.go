// Package agent talks to the model gateway that categorizes emails and
// writes reply drafts.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpipe/internal/model"
	"mailpipe/internal/pipeline"
	"mailpipe/pkg/circuitbreaker"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/trace"
)

const generatePath = "/generate"

var (
	ErrEmptyResponse = errors.New("agent returned empty text")
	ErrNoCategory    = errors.New("agent response has no category")
	ErrNoDraftText   = errors.New("agent response has no draftText")
)

// Client implements pipeline.Categorizer and pipeline.Drafter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker // 熔断器
	logger     *zap.Logger
}

var (
	_ pipeline.Categorizer = (*Client)(nil)
	_ pipeline.Drafter     = (*Client)(nil)
)

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	// 连续失败3次后打开，30秒后半开
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cb:         circuitbreaker.NewCircuitBreaker(cbConfig),
		logger:     logger,
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

type categoryAnswer struct {
	Category *string `json:"category"`
}

type draftAnswer struct {
	DraftText    string `json:"draftText"`
	DraftSubject string `json:"draftSubject"`
}

// Classify asks the gateway for a category. Labels outside the known set
// come back as CategoryFailed.
func (c *Client) Classify(ctx context.Context, in pipeline.ClassifyInput) (model.EmailCategory, error) {
	raw, err := c.generate(ctx, categoryPrompt(in))
	if err != nil {
		return model.CategoryFailed, err
	}
	var answer categoryAnswer
	if err := json.Unmarshal([]byte(stripJSONCodeFence(raw)), &answer); err != nil {
		return model.CategoryFailed, fmt.Errorf("decode category: %w", err)
	}
	if answer.Category == nil {
		return model.CategoryFailed, ErrNoCategory
	}
	category := model.ParseEmailCategory(*answer.Category)
	logger.WithTrace(ctx, c.logger).Info("email categorized by agent",
		zap.String("subject", in.Subject),
		zap.String("category", string(category)),
	)
	return category, nil
}

// Generate asks the gateway for a reply draft.
func (c *Client) Generate(ctx context.Context, in pipeline.DraftInput) (*pipeline.GeneratedDraft, error) {
	raw, err := c.generate(ctx, replyPrompt(in))
	if err != nil {
		return nil, err
	}
	var answer draftAnswer
	if err := json.Unmarshal([]byte(stripJSONCodeFence(raw)), &answer); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if strings.TrimSpace(answer.DraftText) == "" {
		return nil, ErrNoDraftText
	}
	return &pipeline.GeneratedDraft{
		DraftText:    answer.DraftText,
		DraftSubject: answer.DraftSubject,
	}, nil
}

// generate posts a prompt through the circuit breaker and returns the raw text.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.cb.Execute(func() error {
		start := time.Now()
		b, err := json.Marshal(generateRequest{Prompt: prompt})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		// 传播 trace_id
		if traceID := trace.FromContext(ctx); traceID != "" {
			req.Header.Set(trace.HeaderName, traceID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordAgentCallLatency(generatePath, "error", time.Since(start))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			status := fmt.Sprintf("%d", resp.StatusCode)
			if resp.StatusCode >= 500 {
				status = "5xx"
			}
			metrics.RecordAgentCallLatency(generatePath, status, time.Since(start))
			return fmt.Errorf("agent service error: %d", resp.StatusCode)
		}
		metrics.RecordAgentCallLatency(generatePath, "success", time.Since(start))

		var out generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode agent response: %w", err)
		}
		text = out.Text
		return nil
	})
	if err != nil {
		logger.WithTrace(ctx, c.logger).Warn("agent call failed",
			zap.String("breaker", c.cb.GetState().String()),
			zap.Error(err),
		)
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
