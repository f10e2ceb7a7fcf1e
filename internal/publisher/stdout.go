package publisher

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdoutPublisher prints the digest to stdout.
type StdoutPublisher struct {
	out io.Writer
}

func NewStdoutPublisher() *StdoutPublisher {
	return &StdoutPublisher{out: os.Stdout}
}

func (p *StdoutPublisher) Publish(_ context.Context, digest *Digest) error {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("=", 72) + "\n")
	fmt.Fprintf(&sb, "%s\n", digest.Subject)
	fmt.Fprintf(&sb, "Date: %s\n", digest.Date.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "Timeframe: %s hours\n", digest.TimeframeHours())
	fmt.Fprintf(&sb, "Accounts: %s\n", strings.Join(digest.Accounts, ", "))
	sb.WriteString(strings.Repeat("=", 72) + "\n\n")
	sb.WriteString(digest.Summary)
	sb.WriteString("\n\n" + strings.Repeat("=", 72) + "\n")

	if _, err := io.WriteString(p.out, sb.String()); err != nil {
		return fmt.Errorf("stdout: %w: %w", ErrDelivery, err)
	}
	return nil
}
