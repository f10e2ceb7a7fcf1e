package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T) (*FileStore, *fakeClock, string) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "database", "memory.json")
	return NewFileStore(path, WithClock(clock.Now)), clock, path
}

func TestEmptyStore(t *testing.T) {
	s, clock, path := newTestStore(t)
	ctx := context.Background()

	recs, err := s.Records(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, recs)

	fresh, err := s.HasFresh(ctx, "alice", 6*time.Hour, clock.Now())
	require.NoError(t, err)
	assert.False(t, fresh)

	latest, err := s.LatestPerSubject(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "reads must not create the store file")
}

func TestAppendStampsAndPersists(t *testing.T) {
	s, clock, path := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Append(ctx, "alice", "summary of alice", []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Subject)
	assert.Equal(t, clock.Now(), rec.CreatedAt)

	// A fresh FileStore on the same path sees the record.
	reopened := NewFileStore(path)
	got, ok, err := reopened.Latest(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"createdAt": "2025-01-15T08:00:00Z"`)
	assert.Contains(t, string(data), `"sourceIds"`)
}

func TestRecordsNewestFirstAfterEveryWrite(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	offsets := []time.Duration{0, 2 * time.Hour, -5 * time.Hour, time.Hour, 0}
	for i, off := range offsets {
		clock.Advance(off)
		_, err := s.Append(ctx, "alice", "s", nil)
		require.NoError(t, err)

		recs, err := s.Records(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, recs, i+1)
		for j := 1; j < len(recs); j++ {
			assert.False(t, recs[j].CreatedAt.After(recs[j-1].CreatedAt),
				"record %d is newer than record %d", j, j-1)
		}
	}
}

func TestHasFreshWindow(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Append(ctx, "alice", "s", nil)
	require.NoError(t, err)
	written := clock.Now()

	tests := []struct {
		name  string
		now   time.Time
		fresh bool
	}{
		{"immediately", written, true},
		{"inside window", written.Add(5 * time.Hour), true},
		{"at boundary", written.Add(6 * time.Hour), false},
		{"after window", written.Add(7 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh, err := s.HasFresh(ctx, "alice", 6*time.Hour, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.fresh, fresh)
		})
	}

	fresh, err := s.HasFresh(ctx, "bob", 6*time.Hour, written)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestLatestPerSubjectExcludesAllAndKeepsOrder(t *testing.T) {
	s, clock, path := newTestStore(t)
	ctx := context.Background()

	for _, subject := range []string{"zed", "alice", AllSubject, "mike"} {
		_, err := s.Append(ctx, subject, "old "+subject, nil)
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	_, err := s.Append(ctx, "alice", "new alice", []string{"t9"})
	require.NoError(t, err)

	latest, err := NewFileStore(path).LatestPerSubject(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 3)

	var subjects []string
	for _, r := range latest {
		subjects = append(subjects, r.Subject)
		assert.NotEqual(t, AllSubject, r.Subject)
	}
	assert.Equal(t, []string{"zed", "alice", "mike"}, subjects)
	assert.Equal(t, "new alice", latest[1].Text)
	assert.Equal(t, []string{"t9"}, latest[1].SourceIDs)
}

func TestSubjectOrderSurvivesRewrite(t *testing.T) {
	s, _, path := newTestStore(t)
	ctx := context.Background()
	for _, subject := range []string{"c", "a", "b"} {
		_, err := s.Append(ctx, subject, subject, nil)
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Less(t, strings.Index(text, `"c"`), strings.Index(text, `"a"`))
	assert.Less(t, strings.Index(text, `"a"`), strings.Index(text, `"b"`))
}

func TestLoadsHandWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	content := `{
  "bob": [
    {"createdAt": "2025-01-14T08:00:00Z", "text": "older", "sourceIds": ["1"]},
    {"createdAt": "2025-01-15T08:00:00.000Z", "text": "newer", "sourceIds": ["2"]}
  ],
  "all": [],
  "amy": null
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := NewFileStore(path)
	recs, err := s.Records(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "newer", recs[0].Text)

	latest, err := s.LatestPerSubject(context.Background())
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "bob", latest[0].Subject)
}

func TestCorruptFileIsStoreIOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"alice": [`), 0o644))
	s := NewFileStore(path)
	ctx := context.Background()

	_, err := s.Records(ctx, "alice")
	assert.ErrorIs(t, err, ErrStoreIO)

	_, err = s.Append(ctx, "alice", "text", nil)
	assert.ErrorIs(t, err, ErrStoreIO)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"alice": [`, string(data), "a failed append must not touch the file")
}

func TestAppendRejectsEmptySubject(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Append(context.Background(), "", "text", nil)
	require.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, "alice", "text", nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
