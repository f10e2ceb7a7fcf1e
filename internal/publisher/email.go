package publisher

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailPublisher sends the digest as an HTML email via SMTP.
type EmailPublisher struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	sendMail sendMailFunc
}

func NewEmailPublisher(host string, port int, username, password, from string, to []string) *EmailPublisher {
	return &EmailPublisher{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

func (p *EmailPublisher) Publish(ctx context.Context, digest *Digest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: %w: %w", ErrDelivery, err)
	}

	msg := buildMessage(p.from, p.to, digest)
	addr := fmt.Sprintf("%s:%d", p.host, p.port)

	// Unauthenticated relays are allowed when no username is configured.
	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}

	if err := p.sendMail(addr, auth, p.from, p.to, msg); err != nil {
		return fmt.Errorf("email: %w: %w", ErrDelivery, err)
	}

	return nil
}

func buildMessage(from string, to []string, digest *Digest) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", digest.Subject))
	fmt.Fprintf(&sb, "Date: %s\r\n", digest.Date.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	sb.WriteString(digest.HTML)
	return []byte(sb.String())
}
