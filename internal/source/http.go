package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"

	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/retry"
)

const maxErrorBody = 512

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             retry.Config
}

// HTTPSource talks to a JSON content API:
//
//	POST /login                    {identity, password, email, otp}
//	GET  /session                  200 while the session is valid
//	GET  /users/{account}/posts    ?count=N -> [{id, author, created_at, text}]
//	POST /logout
//
// Session cookies are scoped to the configured base URL.
type HTTPSource struct {
	baseURL     *url.URL
	client      *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	logger      logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	cookies map[string]Cookie
}

var _ Source = (*HTTPSource)(nil)

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	OTP      string `json:"otp,omitempty"`
}

// NewHTTPSource creates an HTTPSource for cfg.BaseURL.
func NewHTTPSource(cfg HTTPConfig, log logger.Logger) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("source: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &HTTPSource{
		baseURL:     base,
		client:      &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(limit, 1),
		retryConfig: cfg.Retry,
		logger:      log,
		now:         time.Now,
		cookies:     make(map[string]Cookie),
	}, nil
}

func (s *HTTPSource) Authenticate(ctx context.Context, creds Credentials) error {
	body := loginRequest{
		Identity: creds.Identity,
		Password: creds.Secret,
		Email:    creds.RecoveryEmail,
	}
	if creds.TwoFactorSecret != "" {
		code, err := totp.GenerateCode(creds.TwoFactorSecret, s.now())
		if err != nil {
			return fmt.Errorf("%w: generate 2fa code: %w", ErrAuth, err)
		}
		body.OTP = code
	}

	resp, err := s.do(ctx, http.MethodPost, "/login", nil, body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	s.logger.Debug("Login accepted", logger.String("identity", creds.Identity))
	return nil
}

func (s *HTTPSource) IsAuthenticated(ctx context.Context) (bool, error) {
	resp, err := s.do(ctx, http.MethodGet, "/session", nil, nil)
	if err != nil {
		return false, fmt.Errorf("source: session check: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("source: session check: %w", checkStatus(resp))
	}
}

func (s *HTTPSource) FetchRecent(ctx context.Context, account string, maxItems int) ([]ContentItem, error) {
	if maxItems <= 0 || maxItems > MaxItemsCap {
		maxItems = MaxItemsCap
	}
	query := url.Values{}
	query.Set("count", strconv.Itoa(maxItems))
	path := "/users/" + url.PathEscape(account) + "/posts"

	var items []ContentItem
	err := retry.WithBackoff(ctx, s.retryConfig, func(ctx context.Context) error {
		resp, err := s.do(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return err
		}
		items = nil
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			return retry.Permanent(fmt.Errorf("decode posts: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, account, err)
	}

	if len(items) > maxItems {
		items = items[:maxItems]
	}
	s.logger.Debug("Fetched posts", logger.String("account", account), logger.Int("count", len(items)))
	return items, nil
}

func (s *HTTPSource) Session(_ context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var sess Session
	for _, c := range s.cookies {
		if !c.expired(now) {
			sess.Cookies = append(sess.Cookies, c)
		}
	}
	slices.SortFunc(sess.Cookies, func(a, b Cookie) int { return strings.Compare(a.Name, b.Name) })
	return sess, nil
}

// SetSession installs sess and verifies it with the server. A rejected session
// leaves the source logged out.
func (s *HTTPSource) SetSession(ctx context.Context, sess Session) error {
	if sess.Empty() {
		return fmt.Errorf("%w: no cookies", ErrInvalidSession)
	}

	s.mu.Lock()
	s.cookies = make(map[string]Cookie, len(sess.Cookies))
	now := s.now()
	for _, c := range sess.Cookies {
		if !c.expired(now) {
			s.cookies[c.Name] = c
		}
	}
	s.mu.Unlock()

	ok, err := s.IsAuthenticated(ctx)
	if err == nil && !ok {
		err = errors.New("session rejected")
	}
	if err != nil {
		s.clearCookies()
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return nil
}

func (s *HTTPSource) Logout(ctx context.Context) error {
	defer s.clearCookies()

	resp, err := s.do(ctx, http.MethodPost, "/logout", nil, nil)
	if err != nil {
		return fmt.Errorf("source: logout: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("source: logout: %w", err)
	}
	return nil
}

func (s *HTTPSource) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	s.mu.Lock()
	now := s.now()
	for _, c := range s.cookies {
		if !c.expired(now) {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	s.mu.Unlock()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	s.absorbCookies(resp.Cookies())
	return resp, nil
}

func (s *HTTPSource) absorbCookies(cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, hc := range cookies {
		c := fromHTTPCookie(hc)
		if hc.MaxAge > 0 {
			c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
		}
		if hc.MaxAge < 0 || c.expired(now) {
			delete(s.cookies, c.Name)
			continue
		}
		s.cookies[c.Name] = c
	}
}

func (s *HTTPSource) clearCookies() {
	s.mu.Lock()
	s.cookies = make(map[string]Cookie)
	s.mu.Unlock()
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
