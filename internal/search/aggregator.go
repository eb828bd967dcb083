// Package search implements the federated person search: fan out to every
// active source, redact, group by person and order deterministically.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/domain/history"
	"github.com/Togather-Foundation/retriever/internal/domain/ids"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/Togather-Foundation/retriever/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxInFlight   = 4
	DefaultSourceTimeout = 10 * time.Second
)

// Registry supplies the active descriptors, ordered by name.
type Registry interface {
	ListActive(ctx context.Context) ([]sources.Descriptor, error)
}

// Querier runs one connect, query, close cycle. Errors should be
// *connectors.SourceError; anything else is reported as a query error.
type Querier interface {
	Query(ctx context.Context, d sources.Descriptor, identifier string, fields []string) ([]connectors.Row, error)
}

// PolicySource hands out the redaction policy snapshot for one search.
type PolicySource interface {
	Snapshot() *redact.Policy
}

// SessionRecorder stores search history.
type SessionRecorder interface {
	RecordSearch(ctx context.Context, s history.SearchSession) error
}

type Config struct {
	Registry      Registry
	Querier       Querier
	Policy        PolicySource
	Auditor       audit.Recorder
	History       SessionRecorder
	MaxInFlight   int
	SourceTimeout time.Duration
	Logger        zerolog.Logger
}

type Aggregator struct {
	registry    Registry
	querier     Querier
	policy      PolicySource
	auditor     audit.Recorder
	history     SessionRecorder
	maxInFlight int
	timeout     time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func New(cfg Config) *Aggregator {
	a := &Aggregator{
		registry:    cfg.Registry,
		querier:     cfg.Querier,
		policy:      cfg.Policy,
		auditor:     cfg.Auditor,
		history:     cfg.History,
		maxInFlight: cfg.MaxInFlight,
		timeout:     cfg.SourceTimeout,
		logger:      cfg.Logger.With().Str("component", "search").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if a.maxInFlight <= 0 {
		a.maxInFlight = DefaultMaxInFlight
	}
	if a.timeout <= 0 {
		a.timeout = DefaultSourceTimeout
	}
	if a.auditor == nil {
		a.auditor = audit.Discard
	}
	if a.policy == nil {
		a.policy = redact.NewStore(nil, cfg.Logger)
	}
	return a
}

type sourceResult struct {
	rows []connectors.Row
	err  error
}

// Search runs req against every active source. Per-source failures are
// reported in the outcome; the only error returned is ErrInvalidQuery.
func (a *Aggregator) Search(ctx context.Context, req Request) (*Outcome, error) {
	normalized := Normalize(req.Identifier)
	if normalized == "" {
		metrics.SearchesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: identifier is empty", ErrInvalidQuery)
	}

	metrics.SearchesInFlight.Inc()
	defer metrics.SearchesInFlight.Dec()

	start := time.Now()
	policy := a.policy.Snapshot()
	out := &Outcome{
		SessionID:  ids.MustULID(),
		Identifier: strings.TrimSpace(req.Identifier),
		Normalized: normalized,
		People:     []PersonResult{},
		Sources:    []string{},
		Errors:     []SourceFailure{},
		SearchedAt: a.now(),
	}

	term := MatchTerm(req.Identifier)
	descriptors, failures := a.selectSources(ctx, req.Sources)
	out.Errors = append(out.Errors, failures...)

	results := make([]sourceResult, len(descriptors))
	g := errgroup.Group{}
	g.SetLimit(a.maxInFlight)
	for i, d := range descriptors {
		g.Go(func() error {
			results[i] = a.querySource(ctx, d, term, req.Fields)
			return nil
		})
	}
	_ = g.Wait()

	groups := newGrouper(normalized, policy)
	for i, d := range descriptors {
		out.Sources = append(out.Sources, d.Name)
		if err := results[i].err; err != nil {
			out.Errors = append(out.Errors, failure(d.Name, err))
			continue
		}
		explicit := d.IdentityFields
		if len(req.Fields) > 0 {
			explicit = req.Fields
		}
		for _, row := range results[i].rows {
			row.Source = d.Name
			groups.add(row, explicit)
		}
	}

	sort.SliceStable(out.Errors, func(i, j int) bool { return out.Errors[i].Source < out.Errors[j].Source })
	out.People = groups.results()
	for _, p := range out.People {
		out.TotalRows += len(p.Rows)
	}
	out.SourcesQueried = len(out.Sources)
	out.SourcesErrored = len(out.Errors)
	out.Duration = time.Since(start)
	out.DurationMS = out.Duration.Milliseconds()

	a.observe(out)
	a.record(ctx, req, out)
	return out, nil
}

// SearchSource runs req against a single named source.
func (a *Aggregator) SearchSource(ctx context.Context, name string, req Request) (*Outcome, error) {
	req.Sources = []string{name}
	return a.Search(ctx, req)
}

func (a *Aggregator) selectSources(ctx context.Context, requested []string) ([]sources.Descriptor, []SourceFailure) {
	if a.registry == nil {
		return nil, []SourceFailure{{Source: "registry", Kind: connectors.KindConfig, Message: "no data source registry configured"}}
	}
	active, err := a.registry.ListActive(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("list active sources failed")
		return nil, []SourceFailure{{Source: "registry", Kind: connectors.KindConnection, Message: err.Error()}}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Name < active[j].Name })
	if len(requested) == 0 {
		return active, nil
	}

	byName := make(map[string]sources.Descriptor, len(active))
	for _, d := range active {
		byName[strings.ToLower(d.Name)] = d
	}
	wanted := make(map[string]bool, len(requested))
	var failures []SourceFailure
	for _, name := range requested {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := byName[key]; !ok {
			failures = append(failures, SourceFailure{Source: name, Kind: connectors.KindConfig, Message: "not an active data source"})
			continue
		}
		wanted[key] = true
	}
	var selected []sources.Descriptor
	for _, d := range active {
		if wanted[strings.ToLower(d.Name)] {
			selected = append(selected, d)
		}
	}
	return selected, failures
}

// querySource bounds one connector call by the source timeout. The call
// runs in its own goroutine so a connector that ignores its context cannot
// hold up the search; the connector still closes its handle when it
// eventually returns.
func (a *Aggregator) querySource(ctx context.Context, d sources.Descriptor, identifier string, fields []string) sourceResult {
	start := time.Now()
	timeout := d.Timeout(a.timeout)
	ctx, span := telemetry.StartSourceSpan(ctx, d.Name, string(d.Kind))
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan sourceResult, 1)
	go func() {
		rows, err := a.querier.Query(cctx, d, identifier, fields)
		done <- sourceResult{rows: rows, err: err}
	}()

	var res sourceResult
	select {
	case res = <-done:
		if res.err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			res.err = timeoutError(d.Name, timeout)
		}
	case <-cctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			res.err = connectors.NewError(connectors.KindTimeout, d.Name, fmt.Errorf("search canceled: %w", ctx.Err()))
		} else {
			res.err = timeoutError(d.Name, timeout)
		}
	}

	telemetry.EndSpan(span, res.err, attribute.Int("retriever.rows", len(res.rows)))
	kind := string(d.Kind)
	metrics.SourceQueryDuration.WithLabelValues(d.Name, kind).Observe(time.Since(start).Seconds())
	if res.err != nil {
		metrics.SourceQueriesTotal.WithLabelValues(d.Name, kind, string(connectors.KindOf(res.err))).Inc()
		a.logger.Warn().Err(res.err).Str("source", d.Name).Str("kind", kind).Msg("source query failed")
		return res
	}
	metrics.SourceQueriesTotal.WithLabelValues(d.Name, kind, "ok").Inc()
	metrics.SourceRowsReturned.WithLabelValues(d.Name).Add(float64(len(res.rows)))
	return res
}

func timeoutError(source string, timeout time.Duration) error {
	return connectors.NewError(connectors.KindTimeout, source, fmt.Errorf("no response within %s", timeout))
}

func failure(source string, err error) SourceFailure {
	var serr *connectors.SourceError
	if errors.As(err, &serr) {
		return SourceFailure{Source: source, Kind: serr.Kind, Message: serr.Message()}
	}
	return SourceFailure{Source: source, Kind: connectors.KindOf(err), Message: err.Error()}
}

func (a *Aggregator) observe(out *Outcome) {
	result := "ok"
	switch {
	case out.SourcesErrored > 0 && out.SourcesErrored >= out.SourcesQueried:
		result = "failed"
	case out.SourcesErrored > 0:
		result = "partial"
	}
	metrics.SearchesTotal.WithLabelValues(result).Inc()
	metrics.SearchDuration.Observe(out.Duration.Seconds())
	metrics.SearchGroups.Observe(float64(len(out.People)))
}

// record emits the audit event and stores the session. Neither can fail
// the search.
func (a *Aggregator) record(ctx context.Context, req Request, out *Outcome) {
	status := audit.StatusSuccess
	if out.SourcesErrored > 0 && out.SourcesErrored >= out.SourcesQueried {
		status = audit.StatusFailure
	}
	action := audit.ActionSearch
	if len(req.Sources) == 1 {
		action = audit.ActionSourceSearch
	}
	a.auditor.Record(audit.Event{
		Actor:          req.Actor,
		Action:         action,
		Identifier:     out.Identifier,
		SourcesQueried: append([]string(nil), out.Sources...),
		SourcesErrored: out.ErroredSources(),
		ResourceType:   "search_session",
		ResourceID:     out.SessionID,
		IPAddress:      req.IPAddress,
		Status:         status,
		Details: map[string]string{
			"results":     strconv.Itoa(out.TotalRows),
			"people":      strconv.Itoa(len(out.People)),
			"duration_ms": strconv.FormatInt(out.DurationMS, 10),
		},
	})

	if a.history == nil {
		return
	}
	err := a.history.RecordSearch(context.WithoutCancel(ctx), history.SearchSession{
		ID:             out.SessionID,
		Actor:          req.Actor,
		Identifier:     out.Identifier,
		ResultsCount:   out.TotalRows,
		SourcesQueried: out.SourcesQueried,
		SourcesErrored: out.SourcesErrored,
		CreatedAt:      out.SearchedAt,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("session_id", out.SessionID).Msg("record search history failed")
	}
}
