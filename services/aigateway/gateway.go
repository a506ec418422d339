package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wecodesec-tools/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/gateway.go -package=mocks wecodesec-tools/services/aigateway Gateway

// Gateway turns task content into an analysis result. Implementations must not
// touch the task store and may block for as long as the provider takes.
type Gateway interface {
	Name() string
	Process(ctx context.Context, content string) (*Result, error)
}

type Result struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Result      string          `json:"result"`
	Raw         json.RawMessage `json:"-"`
}

// Payload is the structured document stored as the artifact. Providers that
// returned a raw body keep it verbatim.
func (r *Result) Payload() (json.RawMessage, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return encode(map[string]string{
		"title":       r.Title,
		"description": r.Description,
		"result":      r.Result,
	})
}

func (r *Result) empty() bool {
	return r.Title == "" && r.Description == "" && r.Result == ""
}

var ErrEmptyResult = errors.New("ai gateway returned an empty result")

// Error is a failed provider call. It never reaches HTTP callers.
type Error struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ai gateway %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ai gateway %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var Module = fx.Module("aigateway", fx.Provide(New))

// New selects the provider named by AI_GATEWAY.PROVIDER.
func New(cfg *config.Config) (Gateway, error) {
	var gw Gateway
	switch cfg.AIGateway.Provider {
	case "", "echo", "mock":
		gw = NewEcho()
	case "http":
		var err error
		gw, err = NewHTTP(HTTPConfig{
			BaseURL: cfg.AIGateway.BaseURL,
			APIKey:  cfg.AIGateway.APIKey,
			Model:   cfg.AIGateway.Model,
			Timeout: cfg.AIGateway.Timeout,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown ai gateway provider %q", cfg.AIGateway.Provider)
	}

	zap.L().Info("[AIGateway] provider selected", zap.String("provider", gw.Name()))
	return gw, nil
}

// encode marshals without HTML escaping so stored text matches what the
// provider produced.
func encode(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
