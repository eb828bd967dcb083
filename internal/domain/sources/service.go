package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/rs/zerolog"
)

var ErrConnectionTest = errors.New("data source connection test failed")

// Repository persists descriptors. List returns descriptors ordered by name.
type Repository interface {
	Create(ctx context.Context, d Descriptor) (*Descriptor, error)
	Update(ctx context.Context, d Descriptor) (*Descriptor, error)
	GetByName(ctx context.Context, name string) (*Descriptor, error)
	List(ctx context.Context, activeOnly bool) ([]Descriptor, error)
	SetActive(ctx context.Context, name string, active bool) error
	UpdateSchema(ctx context.Context, name string, fields []FieldDescriptor, refreshedAt time.Time) error
}

// Prober opens a short-lived connection to a source. The connectors
// factory implements it.
type Prober interface {
	Test(ctx context.Context, d Descriptor) error
	Describe(ctx context.Context, d Descriptor) ([]FieldDescriptor, error)
}

// TestResult reports the outcome of a connection test.
type TestResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// SyncResult summarizes a descriptor directory sync.
type SyncResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
	Failed  []string `json:"failed"`
}

// Service is the data source registry. It is the only writer of
// descriptors; searches read snapshots through ListActive.
type Service struct {
	repo    Repository
	prober  Prober
	auditor audit.Recorder
	logger  zerolog.Logger
	// TestOnWrite makes Create and Update refuse descriptors whose source
	// cannot be reached.
	TestOnWrite bool
}

func NewService(repo Repository, prober Prober, auditor audit.Recorder, logger zerolog.Logger) *Service {
	if auditor == nil {
		auditor = audit.Discard
	}
	return &Service{
		repo:        repo,
		prober:      prober,
		auditor:     auditor,
		logger:      logger.With().Str("component", "sources").Logger(),
		TestOnWrite: true,
	}
}

// Create registers a new data source after validating it and, when
// TestOnWrite is set, testing the connection. The schema snapshot is
// captured on a best-effort basis.
func (s *Service) Create(ctx context.Context, actor string, d Descriptor) (*Descriptor, error) {
	Normalize(&d)
	if err := Validate(d); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByName(ctx, d.Name); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check name: %w", err)
	}

	if err := s.testBeforeWrite(ctx, d); err != nil {
		s.record(actor, "source.create", d.Name, audit.StatusFailure, map[string]string{"error": err.Error()})
		return nil, err
	}

	d.CreatedBy = actor
	created, err := s.repo.Create(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("create data source: %w", err)
	}

	s.captureSchema(ctx, created)
	s.record(actor, "source.create", created.Name, audit.StatusSuccess, map[string]string{"kind": string(created.Kind)})
	return created, nil
}

// Update replaces a descriptor's parameters. The name is the identity and
// cannot change.
func (s *Service) Update(ctx context.Context, actor, name string, d Descriptor) (*Descriptor, error) {
	existing, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	d.Name = existing.Name
	d.ID = existing.ID
	d.CreatedBy = existing.CreatedBy
	d.CreatedAt = existing.CreatedAt
	d.restoreSecrets(*existing)
	Normalize(&d)
	if err := Validate(d); err != nil {
		return nil, err
	}
	if err := s.testBeforeWrite(ctx, d); err != nil {
		s.record(actor, "source.update", d.Name, audit.StatusFailure, map[string]string{"error": err.Error()})
		return nil, err
	}

	updated, err := s.repo.Update(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("update data source: %w", err)
	}
	s.captureSchema(ctx, updated)
	s.record(actor, "source.update", updated.Name, audit.StatusSuccess, map[string]string{"kind": string(updated.Kind)})
	return updated, nil
}

// Deactivate soft-deletes a source; it stops taking part in searches.
func (s *Service) Deactivate(ctx context.Context, actor, name string) error {
	return s.setActive(ctx, actor, name, false)
}

func (s *Service) Activate(ctx context.Context, actor, name string) error {
	return s.setActive(ctx, actor, name, true)
}

func (s *Service) setActive(ctx context.Context, actor, name string, active bool) error {
	if err := s.repo.SetActive(ctx, name, active); err != nil {
		return err
	}
	action := "source.deactivate"
	if active {
		action = "source.activate"
	}
	s.record(actor, action, name, audit.StatusSuccess, nil)
	return nil
}

func (s *Service) Get(ctx context.Context, name string) (*Descriptor, error) {
	return s.repo.GetByName(ctx, name)
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]Descriptor, error) {
	return s.repo.List(ctx, activeOnly)
}

// ListActive returns the active descriptors ordered by name.
func (s *Service) ListActive(ctx context.Context) ([]Descriptor, error) {
	return s.repo.List(ctx, true)
}

// Test connects to the named source and disconnects again.
func (s *Service) Test(ctx context.Context, actor, name string) (TestResult, error) {
	d, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return TestResult{}, err
	}
	if s.prober == nil {
		return TestResult{}, errors.New("no connector factory configured")
	}

	start := time.Now()
	testErr := s.prober.Test(ctx, *d)
	latency := time.Since(start)

	result := TestResult{Name: d.Name, OK: testErr == nil, LatencyMS: latency.Milliseconds()}
	status := audit.StatusSuccess
	if testErr != nil {
		result.Error = testErr.Error()
		status = audit.StatusFailure
	}
	s.record(actor, "source.test", d.Name, status, map[string]string{"latency_ms": strconv.FormatInt(result.LatencyMS, 10)})
	return result, nil
}

// Describe introspects the live schema of the named source.
func (s *Service) Describe(ctx context.Context, name string) ([]FieldDescriptor, error) {
	d, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if s.prober == nil {
		return nil, errors.New("no connector factory configured")
	}
	return s.prober.Describe(ctx, *d)
}

// RefreshSchema introspects the named source and stores the result on its
// descriptor.
func (s *Service) RefreshSchema(ctx context.Context, name string) ([]FieldDescriptor, error) {
	fields, err := s.Describe(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSchema(ctx, name, fields, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return fields, nil
}

// SyncDir creates or updates every descriptor found in dir. Connection
// tests are skipped: descriptor files are trusted configuration and sources
// may legitimately be offline while syncing.
func (s *Service) SyncDir(ctx context.Context, actor, dir string) (SyncResult, error) {
	descriptors, loadErr := LoadDir(dir)
	result := SyncResult{}

	for _, d := range descriptors {
		existing, err := s.repo.GetByName(ctx, d.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			d.CreatedBy = actor
			if _, err := s.repo.Create(ctx, d); err != nil {
				s.logger.Error().Err(err).Str("source", d.Name).Msg("sync create failed")
				result.Failed = append(result.Failed, d.Name)
				continue
			}
			result.Created = append(result.Created, d.Name)
		case err != nil:
			result.Failed = append(result.Failed, d.Name)
		default:
			d.ID = existing.ID
			d.CreatedBy = existing.CreatedBy
			d.CreatedAt = existing.CreatedAt
			if _, err := s.repo.Update(ctx, d); err != nil {
				s.logger.Error().Err(err).Str("source", d.Name).Msg("sync update failed")
				result.Failed = append(result.Failed, d.Name)
				continue
			}
			result.Updated = append(result.Updated, d.Name)
		}
	}

	s.record(actor, "source.sync", dir, audit.StatusSuccess, map[string]string{
		"created": strings.Join(result.Created, ","),
		"updated": strings.Join(result.Updated, ","),
		"failed":  strings.Join(result.Failed, ","),
	})
	return result, loadErr
}

func (s *Service) testBeforeWrite(ctx context.Context, d Descriptor) error {
	if !s.TestOnWrite || s.prober == nil {
		return nil
	}
	if err := s.prober.Test(ctx, d); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionTest, err)
	}
	return nil
}

func (s *Service) captureSchema(ctx context.Context, d *Descriptor) {
	if s.prober == nil || d == nil {
		return
	}
	fields, err := s.prober.Describe(ctx, *d)
	if err != nil {
		s.logger.Warn().Err(err).Str("source", d.Name).Msg("schema capture failed")
		return
	}
	now := time.Now().UTC()
	if err := s.repo.UpdateSchema(ctx, d.Name, fields, now); err != nil {
		s.logger.Warn().Err(err).Str("source", d.Name).Msg("schema store failed")
		return
	}
	d.Schema = fields
	d.SchemaRefreshedAt = &now
}

func (s *Service) record(actor, action, name, status string, details map[string]string) {
	s.auditor.Record(audit.Event{
		Actor:        actor,
		Action:       action,
		ResourceType: "data_source",
		ResourceID:   name,
		Status:       status,
		Details:      details,
	})
}
