package audit

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 10000
)

// Filter narrows an audit log query. Zero values match everything.
type Filter struct {
	Actor  string
	Action string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Matches reports whether event passes the filter (ignoring Limit).
func (f Filter) Matches(event Event) bool {
	if f.Actor != "" && !strings.EqualFold(f.Actor, event.Actor) {
		return false
	}
	if f.Action != "" && !strings.EqualFold(f.Action, event.Action) {
		return false
	}
	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !event.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// EffectiveLimit clamps Limit into [1, MaxListLimit].
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Store answers audit log queries, newest first.
type Store interface {
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// FileStore queries a JSON-lines audit file written by FileSink.
type FileStore struct {
	Path string
}

func (s FileStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	events, err := ReadEvents(ctx, f, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit := filter.EffectiveLimit(); len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// ReadEvents decodes JSON-lines events from r. Malformed lines are skipped.
func ReadEvents(ctx context.Context, r io.Reader, filter Filter) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	events := []Event{}
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if filter.Matches(event) {
			events = append(events, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return events, nil
}

var csvHeader = []string{
	"id", "timestamp", "actor", "action", "status", "identifier",
	"sources_queried", "sources_errored", "resource_type", "resource_id",
	"ip_address", "details",
}

// WriteCSV renders events as CSV with a header row.
func WriteCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range events {
		details := ""
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return err
			}
			details = string(raw)
		}
		record := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Actor,
			e.Action,
			e.Status,
			e.Identifier,
			strings.Join(e.SourcesQueried, ";"),
			strings.Join(e.SourcesErrored, ";"),
			e.ResourceType,
			e.ResourceID,
			e.IPAddress,
			details,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON renders events as an indented JSON array.
func WriteJSON(w io.Writer, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

// ParseLimit reads a limit query value, returning 0 for empty input.
func ParseLimit(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return n, nil
}

// ParseTime reads a since/until bound. RFC 3339 and plain dates are parsed
// directly; anything else ("yesterday", "3 days ago") goes through
// go-dateparser relative to now. Empty input is the zero time.
func ParseTime(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	dt, err := dps.Parse(&dps.Configuration{CurrentTime: now, DefaultTimezone: time.UTC}, value)
	if err != nil || dt.Time.IsZero() {
		return time.Time{}, fmt.Errorf("unrecognized time %q", value)
	}
	return dt.Time.UTC(), nil
}
