package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Sink persists events. The emitter's writer goroutine is the only caller.
type Sink interface {
	Name() string
	Write(ctx context.Context, event Event) error
}

// LogSink writes events through zerolog under an "audit" field.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, event Event) error {
	s.logger.Info().Interface("audit", event).Msg("audit")
	return nil
}

// FileSink appends one JSON document per line to a file.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

// OpenFileSink opens (creating if needed) path for appending.
func OpenFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{path: path, file: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	return s.enc.Encode(event)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Sync()
	if closeErr := s.file.Close(); err == nil {
		err = closeErr
	}
	s.file = nil
	return err
}
