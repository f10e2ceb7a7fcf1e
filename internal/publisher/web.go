package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryosukesatoh/social-digest/internal/logger"
)

// WebPublisher serves the latest digest as an HTML page alongside health and
// Prometheus endpoints.
type WebPublisher struct {
	addr   string
	server *http.Server
	log    logger.Logger
	mu     sync.RWMutex
	latest *Digest
}

// NewWebPublisher builds the status server. A nil gatherer disables /metrics.
func NewWebPublisher(addr string, gatherer prometheus.Gatherer, log logger.Logger) *WebPublisher {
	wp := &WebPublisher{addr: addr, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", wp.handleIndex)
	mux.HandleFunc("GET /healthz", wp.handleHealth)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	wp.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return wp
}

// Handler exposes the routes for embedding and tests.
func (wp *WebPublisher) Handler() http.Handler {
	return wp.server.Handler
}

// Start begins serving HTTP in the background. Call Shutdown to stop.
func (wp *WebPublisher) Start() error {
	ln, err := net.Listen("tcp", wp.addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", wp.addr, err)
	}
	go func() {
		wp.log.Info("Status server listening", logger.String("addr", ln.Addr().String()))
		if err := wp.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wp.log.Error("Status server stopped", logger.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (wp *WebPublisher) Shutdown(ctx context.Context) error {
	return wp.server.Shutdown(ctx)
}

func (wp *WebPublisher) Publish(_ context.Context, digest *Digest) error {
	wp.mu.Lock()
	wp.latest = digest
	wp.mu.Unlock()
	wp.log.Debug("Status server updated with new digest", logger.String("subject", digest.Subject))
	return nil
}

func (wp *WebPublisher) current() *Digest {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.latest
}

func (wp *WebPublisher) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	digest := wp.current()
	if digest == nil {
		fmt.Fprint(w, `<!DOCTYPE html><html><body><h1>Social Digest</h1><p>No digest available yet. Check back later.</p></body></html>`)
		return
	}

	fmt.Fprint(w, digest.HTML)
}

type healthResponse struct {
	Status     string     `json:"status"`
	LastDigest *time.Time `json:"last_digest"`
	Accounts   int        `json:"accounts"`
}

func (wp *WebPublisher) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if digest := wp.current(); digest != nil {
		date := digest.Date
		resp.LastDigest = &date
		resp.Accounts = len(digest.Accounts)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		wp.log.Warn("Failed to write health response", logger.Error(err))
	}
}
