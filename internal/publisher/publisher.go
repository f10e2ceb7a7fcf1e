// Package publisher delivers the aggregated digest to its destinations.
package publisher

import (
	"context"
	"errors"
	"time"
)

// ErrDelivery marks a digest that could not be delivered by a publisher.
var ErrDelivery = errors.New("delivery failed")

// Publisher publishes a digest to some output destination.
type Publisher interface {
	Publish(ctx context.Context, digest *Digest) error
}

// Digest is one aggregated notification.
type Digest struct {
	Subject  string
	Period   time.Duration
	Accounts []string
	// Summary is the aggregate summary as Markdown.
	Summary string
	// HTML is the rendered email body.
	HTML string
	Date time.Time
}

// TimeframeHours renders the period in hours without trailing zeros.
func (d *Digest) TimeframeHours() string {
	return formatHours(d.Period)
}
