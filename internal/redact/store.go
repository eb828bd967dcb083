package redact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Store holds the process-wide policy. Readers take a snapshot once per
// search; Replace swaps the whole policy atomically, so a snapshot never
// observes a partial update.
type Store struct {
	current atomic.Pointer[Policy]
	logger  zerolog.Logger
	path    string
}

// NewStore starts with initial, or the default policy when nil.
func NewStore(initial *Policy, logger zerolog.Logger) *Store {
	s := &Store{logger: logger.With().Str("component", "redact").Logger()}
	if initial == nil {
		initial = Default()
	}
	s.Replace(initial)
	return s
}

// OpenStore loads path when set, falling back to the default policy when
// path is empty.
func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return NewStore(nil, logger), nil
	}
	p, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s := NewStore(p, logger)
	s.path = path
	return s, nil
}

// Snapshot returns the current policy. The returned value must be treated
// as read-only.
func (s *Store) Snapshot() *Policy {
	return s.current.Load()
}

func (s *Store) Replace(p *Policy) {
	s.current.Store(p)
	metrics.RedactionPolicyFields.Set(float64(len(p.Patterns)))
}

// Update validates and installs a new policy, persisting it when the store
// is file backed.
func (s *Store) Update(patterns []string, mask string) (*Policy, error) {
	p, err := NewPolicy(patterns, mask)
	if err != nil {
		return nil, err
	}
	if s.path != "" {
		if err := WriteFile(s.path, p); err != nil {
			return nil, err
		}
	}
	s.Replace(p)
	return p, nil
}

// Reload re-reads the backing file. On error the current policy stays.
func (s *Store) Reload() error {
	if s.path == "" {
		return errors.New("redaction policy is not file backed")
	}
	p, err := LoadFile(s.path)
	if err != nil {
		metrics.RedactionPolicyReloads.WithLabelValues("error").Inc()
		return err
	}
	s.Replace(p)
	metrics.RedactionPolicyReloads.WithLabelValues("success").Inc()
	return nil
}

// Watch reloads the policy whenever its file is written, created or
// renamed into place, until ctx ends. The directory is watched so editors
// that replace the file are handled.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("redaction policy is not file backed")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(100 * time.Millisecond)
			}
		case <-debounce:
			debounce = nil
			if err := s.Reload(); err != nil {
				s.logger.Warn().Err(err).Str("path", s.path).Msg("redaction policy reload failed; keeping previous policy")
				continue
			}
			s.logger.Info().Str("path", s.path).Int("patterns", len(s.Snapshot().Patterns)).Msg("redaction policy reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("redaction policy watcher error")
		}
	}
}
