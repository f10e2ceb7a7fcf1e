// Package source defines the content-source contract used by the digest
// pipeline and ships an HTTP adapter for it.
package source

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// MaxItemsCap is the upper bound on items returned by a single FetchRecent call.
const MaxItemsCap = 100

var (
	// ErrAuth is returned when interactive authentication fails.
	ErrAuth = errors.New("source: authentication failed")
	// ErrInvalidSession is returned when restored session material is rejected.
	ErrInvalidSession = errors.New("source: invalid session")
	// ErrFetch wraps any failure to fetch an account's recent items.
	ErrFetch = errors.New("source: fetch failed")
)

// ContentItem is one post fetched from the source.
type ContentItem struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text"`
}

// Credentials are what a full login needs.
type Credentials struct {
	Identity        string
	Secret          string
	RecoveryEmail   string
	TwoFactorSecret string
}

// Cookie is a serializable session cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	SameSite string    `json:"same_site,omitempty"`
}

// Session is the opaque credential material a Source hands out and accepts back.
type Session struct {
	Cookies []Cookie `json:"cookies"`
}

// Empty reports whether the session carries no cookies.
func (s Session) Empty() bool { return len(s.Cookies) == 0 }

// Source is an authenticated, rate-limited content source.
type Source interface {
	Authenticate(ctx context.Context, creds Credentials) error
	IsAuthenticated(ctx context.Context) (bool, error)
	// FetchRecent returns up to maxItems of account's newest items, newest first.
	FetchRecent(ctx context.Context, account string, maxItems int) ([]ContentItem, error)
	Session(ctx context.Context) (Session, error)
	SetSession(ctx context.Context, s Session) error
	Logout(ctx context.Context) error
}

// Since keeps items created strictly after cutoff, preserving order.
func Since(items []ContentItem, cutoff time.Time) []ContentItem {
	out := make([]ContentItem, 0, len(items))
	for _, it := range items {
		if it.CreatedAt.After(cutoff) {
			out = append(out, it)
		}
	}
	return out
}

// IDs returns the item identifiers in order.
func IDs(items []ContentItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func fromHTTPCookie(c *http.Cookie) Cookie {
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
		SameSite: sameSiteName(c.SameSite),
	}
}

func (c Cookie) httpCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: sameSiteMode(c.SameSite),
	}
}

func (c Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

func sameSiteName(m http.SameSite) string {
	switch m {
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	case http.SameSiteLaxMode:
		return "Lax"
	default:
		return ""
	}
}

func sameSiteMode(s string) http.SameSite {
	switch s {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	case "Lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}
