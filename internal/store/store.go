package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrConfigUnavailable means the asset file is missing or unreadable as a
	// whole. Callers retry later; the file is never overwritten in this case.
	ErrConfigUnavailable = errors.New("asset configuration unavailable")
	// ErrStaleSnapshot means the file changed on disk after the snapshot was loaded.
	ErrStaleSnapshot = errors.New("asset snapshot is stale")
)

// maxUpdateAttempts bounds how often Update re-applies its function after a
// concurrent change to the file.
const maxUpdateAttempts = 3

// Store is the durable home of every asset's configuration and trigger state.
// The whole collection is read and replaced as one document.
type Store struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// New creates a Store backed by the JSON document at path.
func New(path string, log zerolog.Logger) *Store {
	return &Store{
		path: path,
		log:  log.With().Str("component", "store").Logger(),
	}
}

// Load reads the current snapshot.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save replaces the file with snap. It fails with ErrStaleSnapshot when the
// file no longer holds the content snap was loaded from.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, snap)
}

// Update loads a fresh snapshot, applies fn and saves the result when fn
// reports a change. A concurrent change to the file re-runs fn on a newer
// snapshot, up to a bounded number of attempts.
func (s *Store) Update(ctx context.Context, fn func(*Snapshot) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		snap, err := s.load(ctx)
		if err != nil {
			return err
		}
		changed, err := fn(snap)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		err = s.save(ctx, snap)
		if !errors.Is(err, ErrStaleSnapshot) {
			return err
		}
		s.log.Warn().Int("attempt", attempt).Msg("asset file changed during update, retrying")
	}
	return fmt.Errorf("update %s: %w", s.path, ErrStaleSnapshot)
}

func (s *Store) load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}
	for _, inv := range snap.Invalid {
		s.log.Debug().Str("symbol", inv.Symbol).Err(inv.Err).Msg("invalid asset entry")
	}
	return snap, nil
}

func (s *Store) save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	if sha256.Sum256(current) != snap.hash {
		return fmt.Errorf("save %s: %w", s.path, ErrStaleSnapshot)
	}

	data, err := snap.encode()
	if err != nil {
		return fmt.Errorf("encode assets: %w", err)
	}
	if bytes.Equal(data, current) {
		return nil
	}
	if err := WriteFileAtomic(s.path, data, 0o644); err != nil {
		return err
	}
	snap.hash = sha256.Sum256(data)
	s.log.Debug().Int("assets", len(snap.Assets)).Msg("asset file saved")
	return nil
}

// WriteFileAtomic writes data to a temporary file next to path, syncs it and
// renames it over path, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
