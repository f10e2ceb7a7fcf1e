package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ryosukesatoh/social-digest/internal/retry"
)

// Discord API limits.
const (
	maxEmbedDescription = 4096
	maxEmbedTitle       = 256
	maxFieldValue       = 1024
	maxEmbedsPerMessage = 10
	maxCharsPerMessage  = 6000
	embedColor          = 0x5865F2 // Discord blurple
)

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordPublisher publishes digests to a Discord channel via webhook.
type DiscordPublisher struct {
	webhookURL  string
	client      *http.Client
	retryConfig retry.Config
	batchDelay  time.Duration
}

// NewDiscordPublisher creates a new DiscordPublisher.
func NewDiscordPublisher(webhookURL string) *DiscordPublisher {
	return &DiscordPublisher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		retryConfig: retry.Config{
			MaxRetries: 3,
			BaseDelay:  1 * time.Second,
		},
		batchDelay: 500 * time.Millisecond,
	}
}

// Publish sends the digest to Discord as a series of embeds.
func (d *DiscordPublisher) Publish(ctx context.Context, digest *Digest) error {
	batches := batchEmbeds(buildEmbeds(digest))

	for i, batch := range batches {
		err := retry.WithBackoff(ctx, d.retryConfig, func(ctx context.Context) error {
			return d.sendWebhook(ctx, batch)
		})
		if err != nil {
			return fmt.Errorf("discord: %w: batch %d: %w", ErrDelivery, i+1, err)
		}

		// Delay between batches to avoid rate limits.
		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("discord: %w: %w", ErrDelivery, ctx.Err())
			case <-time.After(d.batchDelay):
			}
		}
	}
	return nil
}

// buildEmbeds puts the header on the first embed and continues the summary
// over as many embeds as its length needs.
func buildEmbeds(digest *Digest) []discordEmbed {
	chunks := splitChunks(digest.Summary, maxEmbedDescription)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	embeds := make([]discordEmbed, 0, len(chunks))
	for i, chunk := range chunks {
		e := discordEmbed{Description: chunk, Color: embedColor}
		if i == 0 {
			e.Title = truncate(digest.Subject, maxEmbedTitle)
			e.Fields = []discordEmbedField{
				{Name: "Timeframe", Value: digest.TimeframeHours() + " hours", Inline: true},
			}
			if len(digest.Accounts) > 0 {
				e.Fields = append(e.Fields, discordEmbedField{
					Name:  "Accounts",
					Value: truncate(strings.Join(digest.Accounts, ", "), maxFieldValue),
				})
			}
			e.Footer = &discordEmbedFooter{Text: digest.Date.Format("2006-01-02")}
			e.Timestamp = digest.Date.Format(time.RFC3339)
		}
		embeds = append(embeds, e)
	}
	return embeds
}

// splitChunks cuts s into pieces of at most limit bytes, preferring paragraph,
// then line, then word boundaries.
func splitChunks(s string, limit int) []string {
	var chunks []string
	s = strings.TrimSpace(s)
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n\n")
		if cut <= limit/2 {
			cut = strings.LastIndex(s[:limit], "\n")
		}
		if cut <= limit/2 {
			cut = strings.LastIndex(s[:limit], " ")
		}
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		chunks = append(chunks, strings.TrimSpace(s[:cut]))
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// batchEmbeds splits embeds into batches respecting Discord limits:
// max 10 embeds per message, max 6000 total characters per message.
func batchEmbeds(embeds []discordEmbed) [][]discordEmbed {
	var batches [][]discordEmbed
	var current []discordEmbed
	currentChars := 0

	for _, e := range embeds {
		ec := embedCharCount(e)

		if len(current) > 0 && (len(current) >= maxEmbedsPerMessage || currentChars+ec > maxCharsPerMessage) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}

		current = append(current, e)
		currentChars += ec
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// sendWebhook posts a batch of embeds to the Discord webhook.
func (d *DiscordPublisher) sendWebhook(ctx context.Context, embeds []discordEmbed) error {
	body, err := json.Marshal(discordWebhookPayload{Embeds: embeds})
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	return nil
}

// truncate shortens s to limit bytes, preferring a sentence boundary.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	n := limit - len("…")
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	cut := s[:n]
	// Try to cut at a sentence boundary.
	if idx := strings.LastIndexAny(cut, ".!?"); idx > limit/2 {
		return cut[:idx+1]
	}
	return cut + "…"
}

// embedCharCount returns the total character count of an embed for batching purposes.
func embedCharCount(e discordEmbed) int {
	n := len(e.Title) + len(e.Description)
	for _, f := range e.Fields {
		n += len(f.Name) + len(f.Value)
	}
	if e.Footer != nil {
		n += len(e.Footer.Text)
	}
	return n
}
