// Package session persists source session material between runs and decides
// when a full login is needed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ryosukesatoh/social-digest/internal/atomicfile"
	"github.com/ryosukesatoh/social-digest/internal/source"
)

const sessionFileMode = 0o600

// ErrNotFound means no usable session is persisted: the file is absent,
// malformed or empty.
var ErrNotFound = errors.New("session: not found")

// FileStore keeps one session blob in a JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted session.
func (s *FileStore) Load(ctx context.Context) (source.Session, error) {
	if err := ctx.Err(); err != nil {
		return source.Session{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return source.Session{}, ErrNotFound
		}
		return source.Session{}, fmt.Errorf("%w: read %s: %w", ErrNotFound, s.path, err)
	}

	var sess source.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return source.Session{}, fmt.Errorf("%w: malformed %s: %w", ErrNotFound, s.path, err)
	}
	if sess.Empty() {
		return source.Session{}, fmt.Errorf("%w: %s holds no cookies", ErrNotFound, s.path)
	}
	return sess, nil
}

// Persist overwrites the stored session.
func (s *FileStore) Persist(ctx context.Context, sess source.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, data, sessionFileMode); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}
	return nil
}
