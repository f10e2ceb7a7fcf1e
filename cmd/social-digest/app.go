package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ryosukesatoh/social-digest/internal/config"
	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/metrics"
	"github.com/ryosukesatoh/social-digest/internal/publisher"
	"github.com/ryosukesatoh/social-digest/internal/retry"
	"github.com/ryosukesatoh/social-digest/internal/runner"
	"github.com/ryosukesatoh/social-digest/internal/session"
	"github.com/ryosukesatoh/social-digest/internal/source"
	"github.com/ryosukesatoh/social-digest/internal/store"
	"github.com/ryosukesatoh/social-digest/internal/summarizer"
)

// app owns the collaborators of one process.
type app struct {
	log      logger.Logger
	sessions *session.Manager
	runner   *runner.Runner
	web      *publisher.WebPublisher
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	src, err := newSource(cfg, log)
	if err != nil {
		return nil, err
	}
	sessions := newSessionManager(cfg, src, log)

	completer, err := summarizer.NewCompleter(ctx, cfg.Summarizer)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pubs, web, err := newPublishers(cfg, reg, log)
	if err != nil {
		return nil, err
	}

	r := runner.New(runner.Config{
		Period:             cfg.Period(),
		FreshnessWindow:    cfg.FreshnessWindow(),
		MaxItemsPerAccount: cfg.MaxItemsPerAccount,
		FetchPause:         cfg.FetchPause,
		Subject:            cfg.Publisher.Email.Subject,
		ProfileURL:         cfg.Source.ProfileURL,
	}, runner.Deps{
		Sessions:   sessions,
		Inputs:     cfg.Inputs(),
		Source:     src,
		Summarizer: summarizer.New(completer),
		Store:      store.NewFileStore(cfg.Paths.Store),
		Publishers: pubs,
	}, runner.WithMetrics(metrics.New(reg)), runner.WithLogger(log))

	return &app{
		log:      log,
		sessions: sessions,
		runner:   r,
		web:      web,
		registry: reg,
	}, nil
}

func newSource(cfg *config.Config, log logger.Logger) (*source.HTTPSource, error) {
	return source.NewHTTPSource(source.HTTPConfig{
		BaseURL:           cfg.Source.BaseURL,
		Timeout:           cfg.Source.Timeout,
		RequestsPerSecond: cfg.Source.RequestsPerSecond,
		Retry:             retry.DefaultConfig(),
	}, log.With(logger.String("component", "source")))
}

func newSessionManager(cfg *config.Config, src source.Source, log logger.Logger) *session.Manager {
	return session.NewManager(session.NewFileStore(cfg.Paths.Cookies), src, cfg.Credentials(),
		log.With(logger.String("component", "session")))
}

// newPublishers builds the configured publisher plus the status server when
// status.addr is set.
func newPublishers(cfg *config.Config, reg *prometheus.Registry, log logger.Logger) ([]publisher.Publisher, *publisher.WebPublisher, error) {
	var pubs []publisher.Publisher

	switch cfg.Publisher.Type {
	case config.PublisherStdout:
		pubs = append(pubs, publisher.NewStdoutPublisher())
	case config.PublisherEmail:
		email := cfg.Publisher.Email
		pubs = append(pubs, publisher.NewEmailPublisher(
			email.SMTPHost,
			email.SMTPPort,
			email.Username,
			email.Password,
			email.From,
			email.To,
		))
	case config.PublisherDiscord:
		pubs = append(pubs, publisher.NewDiscordPublisher(cfg.Publisher.Discord.WebhookURL))
	default:
		return nil, nil, fmt.Errorf("unknown publisher type: %s", cfg.Publisher.Type)
	}

	var web *publisher.WebPublisher
	if cfg.Status.Addr != "" {
		web = publisher.NewWebPublisher(cfg.Status.Addr, reg, log.With(logger.String("component", "status")))
		pubs = append(pubs, web)
	}
	return pubs, web, nil
}

// logout ends the source session. It runs on termination signals only, so
// the persisted session survives ordinary restarts.
func (a *app) logout() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Manager.Logout logs its own failure.
	_ = a.sessions.Logout(ctx)
}

// close stops the status server.
func (a *app) close() {
	if a.web == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.web.Shutdown(ctx); err != nil {
		a.log.Warn("Status server shutdown error", logger.Error(err))
	}
}
