package aigateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const processPath = "/ai/process"

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout of zero leaves the call bounded only by ctx.
	Timeout time.Duration
}

// HTTP calls a remote analysis service: POST {BaseURL}/ai/process.
type HTTP struct {
	client *resty.Client
	model  string
}

func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("ai gateway http provider requires AI_GATEWAY.BASE_URL")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4"
	}

	return &HTTP{client: client, model: model}, nil
}

func (h *HTTP) Name() string { return "http" }

type processRequest struct {
	TaskContent string `json:"task_content"`
	Model       string `json:"model"`
}

func (h *HTTP) Process(ctx context.Context, content string) (*Result, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(processRequest{TaskContent: content, Model: h.model}).
		Post(processPath)
	if err != nil {
		return nil, &Error{Provider: h.Name(), Err: err}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		zap.L().Warn("[AIGateway] provider returned non-success status",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 512)),
		)
		return nil, &Error{Provider: h.Name(), StatusCode: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.Status())}
	}

	res, err := decodeResult(resp.Body())
	if err != nil {
		return nil, &Error{Provider: h.Name(), StatusCode: resp.StatusCode(), Err: err}
	}
	return res, nil
}

// decodeResult accepts the result object either at the top level or wrapped
// in a "data" field.
func decodeResult(body []byte) (*Result, error) {
	var envelope struct {
		Result
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode ai result: %w", err)
	}

	res := envelope.Result
	raw := json.RawMessage(body)
	if res.empty() && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &res); err != nil {
			return nil, fmt.Errorf("decode ai result data: %w", err)
		}
		raw = envelope.Data
	}

	if res.empty() {
		return nil, ErrEmptyResult
	}

	res.Raw = append(json.RawMessage(nil), raw...)
	return &res, nil
}
