package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/domain/history"
	"github.com/Togather-Foundation/retriever/internal/domain/ids"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/rs/zerolog"
)

const filePrefix = "search_results_"

var ErrNoOutcome = errors.New("no search outcome to export")

// ExportRecorder stores export history.
type ExportRecorder interface {
	RecordExport(ctx context.Context, rec history.ExportRecord) error
}

type Config struct {
	Dir        string
	MaxPDFRows int
	History    ExportRecorder
	Auditor    audit.Recorder
	Logger     zerolog.Logger
}

// Service writes export files into one directory.
type Service struct {
	dir        string
	maxPDFRows int
	history    ExportRecorder
	auditor    audit.Recorder
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(cfg Config) *Service {
	s := &Service{
		dir:        cfg.Dir,
		maxPDFRows: cfg.MaxPDFRows,
		history:    cfg.History,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger.With().Str("component", "export").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.dir == "" {
		s.dir = "exports"
	}
	if s.auditor == nil {
		s.auditor = audit.Discard
	}
	return s
}

func (s *Service) Dir() string { return s.dir }

type Request struct {
	Actor     string
	IPAddress string
	Format    Format
	Outcome   *search.Outcome
}

type Result struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Format   Format `json:"format"`
	Records  int    `json:"records"`
	Size     int64  `json:"size"`
}

// Export renders req.Outcome to search_results_<ulid>.<ext>. The outcome is
// written as given; it must come from a search, so rows are already
// redacted.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Outcome == nil {
		return nil, ErrNoOutcome
	}
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if req.Format != FormatCSV && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	res, err := s.write(ctx, req)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues(string(req.Format), "error").Inc()
		s.auditor.Record(audit.Event{
			Actor:        req.Actor,
			Action:       audit.ActionExport,
			Identifier:   req.Outcome.Identifier,
			ResourceType: "export",
			IPAddress:    req.IPAddress,
			Status:       audit.StatusFailure,
			Details:      map[string]string{"format": string(req.Format), "error": err.Error()},
		})
		return nil, err
	}
	metrics.ExportsTotal.WithLabelValues(string(req.Format), "ok").Inc()

	s.auditor.Record(audit.Event{
		Actor:          req.Actor,
		Action:         audit.ActionExport,
		Identifier:     req.Outcome.Identifier,
		SourcesQueried: append([]string(nil), req.Outcome.Sources...),
		SourcesErrored: req.Outcome.ErroredSources(),
		ResourceType:   "export",
		ResourceID:     res.ID,
		IPAddress:      req.IPAddress,
		Status:         audit.StatusSuccess,
		Details: map[string]string{
			"format":     string(req.Format),
			"records":    strconv.Itoa(res.Records),
			"session_id": req.Outcome.SessionID,
			"file":       res.Filename,
		},
	})

	if s.history != nil {
		err := s.history.RecordExport(context.WithoutCancel(ctx), history.ExportRecord{
			ID:           res.ID,
			Actor:        req.Actor,
			SessionID:    req.Outcome.SessionID,
			Identifier:   req.Outcome.Identifier,
			Format:       string(req.Format),
			Path:         res.Path,
			RecordsCount: res.Records,
			CreatedAt:    s.now(),
		})
		if err != nil {
			s.logger.Error().Err(err).Str("export_id", res.ID).Msg("record export history failed")
		}
	}
	return res, nil
}

// write renders into a temp file in the export directory and renames it
// into place once complete.
func (s *Service) write(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	id := ids.MustULID()
	name := filePrefix + id + req.Format.Extension()
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".export-*")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	buf := bufio.NewWriter(tmp)
	var records int
	switch req.Format {
	case FormatPDF:
		records, err = WritePDF(buf, req.Outcome, PDFOptions{
			Title:       "Search results for " + req.Outcome.Identifier,
			MaxRows:     s.maxPDFRows,
			GeneratedAt: s.now(),
		})
	default:
		records, err = WriteCSV(buf, req.Outcome)
	}
	if err == nil {
		err = buf.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("write %s export: %w", req.Format, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, fmt.Errorf("finalize export: %w", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, fmt.Errorf("stat export: %w", err)
	}
	s.logger.Info().
		Str("export_id", id).
		Str("format", string(req.Format)).
		Int("records", records).
		Str("actor", req.Actor).
		Msg("export written")
	return &Result{ID: id, Path: final, Filename: name, Format: req.Format, Records: records, Size: info.Size()}, nil
}

// Open returns the export file with the given name if it lives in the
// export directory.
func (s *Service) Open(name string) (*os.File, error) {
	if name != filepath.Base(name) || !isExportFile(name) {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.dir, name))
}
