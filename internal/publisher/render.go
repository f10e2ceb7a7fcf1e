package publisher

import (
	"bytes"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// DefaultProfileURL links an account name to its profile page.
const DefaultProfileURL = "https://x.com/%s"

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

type digestOptions struct {
	profileURL string
	now        func() time.Time
}

// DigestOption customizes NewDigest.
type DigestOption func(*digestOptions)

// WithProfileURL sets the printf pattern used for account links.
func WithProfileURL(pattern string) DigestOption {
	return func(o *digestOptions) {
		if pattern != "" {
			o.profileURL = pattern
		}
	}
}

// WithDate fixes the digest date.
func WithDate(t time.Time) DigestOption {
	return func(o *digestOptions) { o.now = func() time.Time { return t } }
}

// NewDigest builds a digest and renders its HTML body from the Markdown summary.
func NewDigest(subject string, period time.Duration, accounts []string, summary string, opts ...DigestOption) (*Digest, error) {
	o := digestOptions{profileURL: DefaultProfileURL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Digest{
		Subject:  subject,
		Period:   period,
		Accounts: append([]string(nil), accounts...),
		Summary:  summary,
		Date:     o.now(),
	}

	body, err := renderHTML(d, o.profileURL)
	if err != nil {
		return nil, err
	}
	d.HTML = body
	return d, nil
}

func renderHTML(d *Digest, profileURL string) (string, error) {
	var summary bytes.Buffer
	if err := markdown.Convert([]byte(d.Summary), &summary); err != nil {
		return "", fmt.Errorf("render: failed to convert summary: %w", err)
	}

	links := make([]string, 0, len(d.Accounts))
	for _, account := range d.Accounts {
		href := fmt.Sprintf(profileURL, account)
		links = append(links, fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), html.EscapeString(account)))
	}

	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><style>
body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 700px; margin: 0 auto; padding: 20px; color: #333; }
h1 { color: #1a1a2e; border-bottom: 2px solid #e94560; padding-bottom: 10px; }
.summary h1 { font-size: 24px; margin-top: 20px; border: none; }
.summary h2 { font-size: 20px; margin-top: 16px; }
.summary h3 { font-size: 18px; margin-top: 14px; }
.summary p { margin: 10px 0; }
.summary ul { margin: 10px 0; padding-left: 20px; }
.summary li { margin: 5px 0; }
.summary code { background: #f4f4f4; padding: 2px 4px; border-radius: 3px; }
.summary blockquote { border-left: 4px solid #ddd; margin: 10px 0; padding-left: 10px; color: #666; }
</style></head><body>`)
	fmt.Fprintf(&sb, "<h1>%s</h1>", html.EscapeString(d.Subject))
	fmt.Fprintf(&sb, "<h2>Timeframe: %s hours</h2>", d.TimeframeHours())
	fmt.Fprintf(&sb, "<p><b>Accounts:</b> %s</p>", strings.Join(links, ", "))
	sb.WriteString(`<div class="summary">`)
	sb.Write(summary.Bytes())
	sb.WriteString("</div></body></html>")
	return sb.String(), nil
}

func formatHours(d time.Duration) string {
	return strconv.FormatFloat(d.Hours(), 'f', -1, 64)
}
