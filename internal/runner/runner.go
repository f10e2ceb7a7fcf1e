// Package runner implements the digest run: authenticate, summarize each
// tracked account, aggregate, persist and notify.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/metrics"
	"github.com/ryosukesatoh/social-digest/internal/publisher"
	"github.com/ryosukesatoh/social-digest/internal/source"
	"github.com/ryosukesatoh/social-digest/internal/store"
	"github.com/ryosukesatoh/social-digest/internal/summarizer"
)

// SessionManager establishes an authenticated source session.
type SessionManager interface {
	Ensure(ctx context.Context) error
}

// Inputs provides the tracked accounts and the prompt template. Both are
// read once per run.
type Inputs interface {
	Accounts() ([]string, error)
	PromptTemplate() (string, error)
}

// Fetcher returns an account's most recent items.
type Fetcher interface {
	FetchRecent(ctx context.Context, account string, maxItems int) ([]source.ContentItem, error)
}

// Summarizer produces per-account and aggregate summaries.
type Summarizer interface {
	SummarizeItems(ctx context.Context, account string, items []source.ContentItem, template string) (string, error)
	SummarizeSummaries(ctx context.Context, summaries []summarizer.AccountSummary) (string, error)
}

// SummaryStore is the durable summary history.
type SummaryStore interface {
	HasFresh(ctx context.Context, subject string, window time.Duration, now time.Time) (bool, error)
	Append(ctx context.Context, subject, text string, sourceIDs []string) (store.Record, error)
	LatestPerSubject(ctx context.Context) ([]store.Record, error)
}

// Config holds the per-run parameters.
type Config struct {
	// Period is the digest period; only items newer than now-Period are summarized.
	Period time.Duration
	// FreshnessWindow skips accounts whose latest summary is newer than now-FreshnessWindow.
	FreshnessWindow    time.Duration
	MaxItemsPerAccount int
	// FetchPause is waited after every successful fetch. Zero disables it.
	FetchPause time.Duration
	Subject    string
	ProfileURL string
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Sessions   SessionManager
	Inputs     Inputs
	Source     Fetcher
	Summarizer Summarizer
	Store      SummaryStore
	Publishers []publisher.Publisher
}

// Runner orchestrates one digest run at a time. It keeps no state between
// runs beyond its collaborators.
type Runner struct {
	cfg     Config
	deps    Deps
	now     func() time.Time
	pause   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Metrics
	log     logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the clock used for freshness and recency cutoffs.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithPause overrides the pacing wait between fetches.
func WithPause(pause func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.pause = pause }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithLogger(log logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func New(cfg Config, deps Deps, opts ...Option) *Runner {
	r := &Runner{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		pause: sleep,
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the pipeline once. The returned report is never nil and
// describes every processed account, also when the run fails.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: r.now()}
	log := r.log.With(logger.String("run_id", report.RunID))
	ctx = logger.WithContext(ctx, log)

	err := r.run(ctx, report, log)
	report.FinishedAt = r.now()
	report.Err = err

	for _, res := range report.Accounts {
		r.metrics.ObserveAccount(string(res.Outcome))
	}
	r.metrics.ObserveRun(report.Status(), report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)

	if err != nil {
		log.Error("Digest run failed", logger.Error(err), logger.String("report", report.String()))
	} else {
		log.Info("Digest run finished", logger.String("report", report.String()))
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, report *Report, log logger.Logger) error {
	log.Info("Authenticating")
	if err := r.deps.Sessions.Ensure(ctx); err != nil {
		return fmt.Errorf("runner: authenticate: %w", err)
	}

	accounts, err := r.deps.Inputs.Accounts()
	if err != nil {
		return fmt.Errorf("runner: load accounts: %w", err)
	}
	template, err := r.deps.Inputs.PromptTemplate()
	if err != nil {
		return fmt.Errorf("runner: load prompt template: %w", err)
	}
	report.Tracked = accounts
	log.Info("Processing accounts", logger.Int("count", len(accounts)))

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("runner: interrupted before %s: %w", account, err)
		}
		res := r.processAccount(ctx, account, template, log.With(logger.String("account", account)))
		report.Accounts = append(report.Accounts, res)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("runner: interrupted: %w", err)
	}

	if report.Count(OutcomeOK) == 0 {
		log.Info("No new account summaries, skipping digest")
		return nil
	}

	agg, err := r.aggregate(ctx, log)
	if err != nil {
		return err
	}
	report.Aggregate = agg

	return r.notify(ctx, report, agg, log)
}

// processAccount runs the per-account steps. Every failure is captured in the
// result and never escapes the loop.
func (r *Runner) processAccount(ctx context.Context, account, template string, log logger.Logger) AccountResult {
	now := r.now()

	fresh, err := r.deps.Store.HasFresh(ctx, account, r.cfg.FreshnessWindow, now)
	if err != nil {
		return r.failed(log, account, "freshness check", err)
	}
	if fresh {
		log.Info("Skipping account with fresh summary", logger.Duration("window", r.cfg.FreshnessWindow))
		return AccountResult{Account: account, Outcome: OutcomeSkipped, Reason: ReasonFresh}
	}

	fetched, err := r.deps.Source.FetchRecent(ctx, account, r.cfg.MaxItemsPerAccount)
	if err != nil {
		return r.failed(log, account, "fetch", err)
	}
	items := source.Since(fetched, now.Add(-r.cfg.Period))

	if err := r.pause(ctx, r.cfg.FetchPause); err != nil {
		return r.failed(log, account, "pause", err)
	}

	if len(items) == 0 {
		log.Info("Skipping account without recent items", logger.Int("fetched", len(fetched)))
		return AccountResult{Account: account, Outcome: OutcomeSkipped, Reason: ReasonNoItems}
	}
	log.Info("Summarizing items", logger.Int("items", len(items)))

	text, err := r.deps.Summarizer.SummarizeItems(ctx, account, items, template)
	if err != nil {
		return r.failed(log, account, "summarize", err)
	}

	rec, err := r.deps.Store.Append(ctx, account, text, source.IDs(items))
	if err != nil {
		return r.failed(log, account, "store", err)
	}

	log.Info("Account processed", logger.Int("items", len(items)))
	return AccountResult{Account: account, Outcome: OutcomeOK, Items: len(items), Record: &rec}
}

func (r *Runner) failed(log logger.Logger, account, step string, err error) AccountResult {
	log.Warn("Account failed", logger.String("step", step), logger.Error(err))
	return AccountResult{
		Account: account,
		Outcome: OutcomeFailed,
		Reason:  step,
		Err:     fmt.Errorf("%s %s: %w", step, account, err),
	}
}

// aggregate summarizes the latest summary of every account and stores the
// result under store.AllSubject.
func (r *Runner) aggregate(ctx context.Context, log logger.Logger) (*store.Record, error) {
	latest, err := r.deps.Store.LatestPerSubject(ctx)
	if err != nil {
		return nil, fmt.Errorf("runner: aggregate read: %w", err)
	}

	var (
		inputs      []summarizer.AccountSummary
		contributed []string
	)
	for _, rec := range latest {
		if rec.Subject == store.AllSubject {
			continue
		}
		inputs = append(inputs, summarizer.AccountSummary{Account: rec.Subject, Summary: rec.Text})
		contributed = append(contributed, rec.Subject)
	}
	log.Info("Aggregating summaries", logger.Strings("accounts", contributed))

	text, err := r.deps.Summarizer.SummarizeSummaries(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("runner: aggregate: %w", err)
	}

	rec, err := r.deps.Store.Append(ctx, store.AllSubject, text, contributed)
	if err != nil {
		return nil, fmt.Errorf("runner: aggregate write: %w", err)
	}
	return &rec, nil
}

// notify sends the digest to every publisher. The run fails only when all of
// them fail.
func (r *Runner) notify(ctx context.Context, report *Report, agg *store.Record, log logger.Logger) error {
	if len(r.deps.Publishers) == 0 {
		log.Warn("No publishers configured, digest stored only")
		return nil
	}

	digest, err := publisher.NewDigest(r.cfg.Subject, r.cfg.Period, report.Tracked, agg.Text,
		publisher.WithProfileURL(r.cfg.ProfileURL), publisher.WithDate(agg.CreatedAt))
	if err != nil {
		return fmt.Errorf("runner: build digest: %w", err)
	}

	var publishErrors []error
	for _, pub := range r.deps.Publishers {
		name := fmt.Sprintf("%T", pub)
		if err := pub.Publish(ctx, digest); err != nil {
			publishErrors = append(publishErrors, fmt.Errorf("publish via %s: %w", name, err))
			r.metrics.ObserveNotification(false)
			log.Warn("Publish failed", logger.String("publisher", name), logger.Error(err))
			continue
		}
		report.Notified++
		r.metrics.ObserveNotification(true)
		log.Info("Published digest", logger.String("publisher", name))
	}

	if report.Notified == 0 {
		return fmt.Errorf("runner: %w: all publishers failed: %w", publisher.ErrDelivery, errors.Join(publishErrors...))
	}
	if len(publishErrors) > 0 {
		log.Warn("Digest published with failures",
			logger.Int("failed", len(publishErrors)), logger.Int("publishers", len(r.deps.Publishers)))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
