package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ryosukesatoh/social-digest/internal/config"
)

// ErrUnsupportedSummarizerType is returned when an unsupported summarizer type is specified
var ErrUnsupportedSummarizerType = errors.New("unsupported summarizer type")

// NewCompleter creates the completion backend named by cfg.Type.
func NewCompleter(ctx context.Context, cfg config.SummarizerConfig) (Completer, error) {
	switch cfg.Type {
	case config.SummarizerAnthropic:
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropicCompleter(cfg.APIKey, cfg.Model, cfg.MaxTokens, cfg.SamplingTemperature(), opts...), nil
	case config.SummarizerGemini:
		return NewGeminiCompleter(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, cfg.SamplingTemperature())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSummarizerType, cfg.Type)
	}
}
