package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/ryosukesatoh/social-digest/internal/logger"
	"github.com/ryosukesatoh/social-digest/internal/source"
)

// Store is the persistence side of session reuse.
type Store interface {
	Load(ctx context.Context) (source.Session, error)
	Persist(ctx context.Context, sess source.Session) error
}

// Manager ensures the source holds an authenticated session, preferring the
// persisted one over a full login.
type Manager struct {
	store  Store
	src    source.Source
	creds  source.Credentials
	logger logger.Logger
}

// NewManager creates a Manager.
func NewManager(store Store, src source.Source, creds source.Credentials, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{store: store, src: src, creds: creds, logger: log}
}

// Ensure restores the persisted session or, failing that, logs in and
// persists the new session. Login failures are returned, never retried.
func (m *Manager) Ensure(ctx context.Context) error {
	err := m.restore(ctx)
	if err == nil {
		m.logger.Info("Session restored from file")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.logger.Info("Stored session unavailable, logging in", logger.Error(err))

	if err := m.src.Authenticate(ctx, m.creds); err != nil {
		return wrapAuth(err)
	}

	ok, err := m.src.IsAuthenticated(ctx)
	if err != nil {
		return wrapAuth(err)
	}
	if !ok {
		return fmt.Errorf("%w: login accepted but session not established", source.ErrAuth)
	}
	m.logger.Info("Logged in", logger.String("identity", m.creds.Identity))

	sess, err := m.src.Session(ctx)
	if err == nil {
		err = m.store.Persist(ctx, sess)
	}
	if err != nil {
		// The live session is usable for this run; only reuse is lost.
		m.logger.Warn("Failed to persist session", logger.Error(err))
		return nil
	}
	m.logger.Info("Session persisted")
	return nil
}

// Logout ends the source session. Errors are logged and returned.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.src.Logout(ctx); err != nil {
		m.logger.Warn("Logout failed", logger.Error(err))
		return err
	}
	m.logger.Info("Session closed")
	return nil
}

func (m *Manager) restore(ctx context.Context) error {
	sess, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	return m.src.SetSession(ctx, sess)
}

func wrapAuth(err error) error {
	if errors.Is(err, source.ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %w", source.ErrAuth, err)
}
