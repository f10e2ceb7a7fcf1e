// Package store is the append-only summary store: per subject, an ordered
// history of generated digests persisted as a single JSON document.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ryosukesatoh/social-digest/internal/atomicfile"
)

// AllSubject is the subject of the cross-account meta digest.
const AllSubject = "all"

const storeFileMode = 0o644

// ErrStoreIO wraps every failure to read, parse or write the store file.
var ErrStoreIO = errors.New("store: i/o failure")

// Record is one digest for a subject. Records are never mutated after Append.
type Record struct {
	Subject   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text"`
	SourceIDs []string  `json:"sourceIds"`
}

// FileStore persists records in one JSON file and re-reads it on every call.
// It assumes a single writer process.
type FileStore struct {
	path string
	now  func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock overrides the clock used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore returns a store backed by path. The file is created on first Append.
func NewFileStore(path string, opts ...Option) *FileStore {
	s := &FileStore{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a record for subject stamped with the current time and returns it.
func (s *FileStore) Append(ctx context.Context, subject, text string, sourceIDs []string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if subject == "" {
		return Record{}, errors.New("store: empty subject")
	}

	c, err := s.load()
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Subject:   subject,
		CreatedAt: s.now().UTC(),
		Text:      text,
		SourceIDs: slices.Clone(sourceIDs),
	}
	if rec.SourceIDs == nil {
		rec.SourceIDs = []string{}
	}
	c.add(rec)

	if err := s.save(c); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Records returns subject's records, newest first.
func (s *FileStore) Records(ctx context.Context, subject string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.load()
	if err != nil {
		return nil, err
	}
	return c.records(subject), nil
}

// Latest returns subject's newest record.
func (s *FileStore) Latest(ctx context.Context, subject string) (Record, bool, error) {
	recs, err := s.Records(ctx, subject)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}

// HasFresh reports whether subject has a record created after now-window.
func (s *FileStore) HasFresh(ctx context.Context, subject string, window time.Duration, now time.Time) (bool, error) {
	recs, err := s.Records(ctx, subject)
	if err != nil {
		return false, err
	}
	cutoff := now.Add(-window)
	for _, r := range recs {
		if r.CreatedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// LatestPerSubject returns the newest record of every subject except
// AllSubject, in stored subject order.
func (s *FileStore) LatestPerSubject(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.load()
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, subject := range c.subjects {
		if subject == AllSubject {
			continue
		}
		if recs := c.bySubject[subject]; len(recs) > 0 {
			out = append(out, withSubject(recs[0], subject))
		}
	}
	return out, nil
}

func (s *FileStore) load() (*collection, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newCollection(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreIO, s.path, err)
	}

	c := newCollection()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrStoreIO, s.path, err)
	}
	return c, nil
}

func (s *FileStore) save(c *collection) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrStoreIO, err)
	}
	if err := atomicfile.WriteFile(s.path, data, storeFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	return nil
}

func withSubject(r Record, subject string) Record {
	r.Subject = subject
	r.SourceIDs = slices.Clone(r.SourceIDs)
	return r
}
