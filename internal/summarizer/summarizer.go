package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/source"
)

var (
	// ErrEmptyResponse is returned by a Completer when the model produced no text.
	ErrEmptyResponse = errors.New("summarizer: empty response")
	// ErrSummarization wraps every failure to produce a summary.
	ErrSummarization = errors.New("summarizer: summarization failed")
)

// Completer is a single-turn text generation backend.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// AccountSummary is one per-account digest fed into the meta digest.
type AccountSummary struct {
	Account string `json:"account"`
	Summary string `json:"summary"`
}

// Summarizer turns posts and per-account summaries into digests.
type Summarizer struct {
	completer Completer
}

func New(c Completer) *Summarizer {
	return &Summarizer{completer: c}
}

// SummarizeItems summarizes account's items. template is the user prompt;
// {items} (or {tweets}) is replaced with the JSON-encoded items and {account}
// (or {username}) with the account name. Without an items placeholder the
// JSON is appended.
func (s *Summarizer) SummarizeItems(ctx context.Context, account string, items []source.ContentItem, template string) (string, error) {
	if items == nil {
		items = []source.ContentItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("%w: encode items: %w", ErrSummarization, err)
	}

	prompt := buildItemsPrompt(template, account, string(data))
	return s.complete(ctx, itemsSystemPrompt, prompt)
}

// SummarizeSummaries produces the cross-account digest from per-account summaries.
func (s *Summarizer) SummarizeSummaries(ctx context.Context, summaries []AccountSummary) (string, error) {
	data, err := json.Marshal(summaries)
	if err != nil {
		return "", fmt.Errorf("%w: encode summaries: %w", ErrSummarization, err)
	}
	return s.complete(ctx, summariesSystemPrompt, string(data))
}

func (s *Summarizer) complete(ctx context.Context, system, user string) (string, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	text, err := s.completer.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarization, err)
	}
	log.Debug("Completion received",
		logger.Int("prompt_bytes", len(user)),
		logger.Int("response_bytes", len(text)),
		logger.Duration("took", time.Since(start)))
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: %w", ErrSummarization, ErrEmptyResponse)
	}
	return text, nil
}

func buildItemsPrompt(template, account, itemsJSON string) string {
	prompt := strings.NewReplacer("{account}", account, "{username}", account).Replace(template)
	for _, placeholder := range []string{"{items}", "{tweets}"} {
		if strings.Contains(prompt, placeholder) {
			return strings.ReplaceAll(prompt, placeholder, itemsJSON)
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return itemsJSON
	}
	return strings.TrimRight(prompt, "\n") + "\n\n" + itemsJSON
}
