// Package connectors defines the uniform contract every data source
// adapter implements and the factory that builds adapters from
// descriptors.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
)

// Field is one named value of a Row. Values are string, int64, float64,
// bool, time.Time or nil.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Row is one matched record, tagged with the source it came from. Fields
// keep the order the source reported them in.
type Row struct {
	Source string  `json:"source"`
	Table  string  `json:"table,omitempty"`
	Fields []Field `json:"fields"`
}

// Get returns the value of the named field (exact name).
func (r Row) Get(name string) (any, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field names in order.
func (r Row) Keys() []string {
	keys := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		keys[i] = f.Name
	}
	return keys
}

// Clone copies the field slice so the copy can be modified freely.
func (r Row) Clone() Row {
	out := r
	out.Fields = append([]Field(nil), r.Fields...)
	return out
}

// Connector exposes one data source. A Connector is used for a single
// connect, query, close cycle and is not safe for concurrent use.
type Connector interface {
	Connect(ctx context.Context) error
	// Query returns rows whose identity fields contain identifier
	// (case-insensitive). fields, when non-empty, replaces the identity
	// fields configured on the descriptor.
	Query(ctx context.Context, identifier string, fields []string) ([]Row, error)
	Describe(ctx context.Context) ([]sources.FieldDescriptor, error)
	Close() error
}

// Builder constructs an unconnected Connector for a validated descriptor.
type Builder func(d sources.Descriptor) (Connector, error)

// Factory maps descriptor kinds to builders.
type Factory struct {
	mu       sync.RWMutex
	builders map[sources.Kind]Builder
}

var _ sources.Prober = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{builders: make(map[sources.Kind]Builder)}
}

// Register installs the builder for kind, replacing any previous one.
func (f *Factory) Register(kind sources.Kind, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = b
}

// Kinds lists the registered kinds in sorted order.
func (f *Factory) Kinds() []sources.Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]sources.Kind, 0, len(f.builders))
	for k := range f.builders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// New builds a Connector for d. Unknown kinds and descriptors that fail
// validation are reported as config errors.
func (f *Factory) New(d sources.Descriptor) (Connector, error) {
	if err := sources.Validate(d); err != nil {
		return nil, NewError(KindConfig, d.Name, err)
	}
	f.mu.RLock()
	b, ok := f.builders[d.Kind]
	f.mu.RUnlock()
	if !ok {
		return nil, NewError(KindConfig, d.Name, fmt.Errorf("%w: %s", sources.ErrUnsupported, d.Kind))
	}
	c, err := b(d)
	if err != nil {
		return nil, NewError(KindConfig, d.Name, err)
	}
	return c, nil
}

// Query runs a full connect, query, close cycle against d. The connector
// is closed on every exit path. Errors are always *SourceError.
func (f *Factory) Query(ctx context.Context, d sources.Descriptor, identifier string, fields []string) ([]Row, error) {
	c, err := f.New(d)
	if err != nil {
		return nil, err
	}
	var rows []Row
	err = withConnection(ctx, d.Name, c, func() error {
		var qerr error
		rows, qerr = c.Query(ctx, identifier, fields)
		return classify(ctx, d.Name, KindQuery, qerr)
	})
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Source = d.Name
	}
	return rows, nil
}

// Test connects to d and disconnects again.
func (f *Factory) Test(ctx context.Context, d sources.Descriptor) error {
	c, err := f.New(d)
	if err != nil {
		return err
	}
	return withConnection(ctx, d.Name, c, func() error { return nil })
}

// Describe connects to d and introspects its schema.
func (f *Factory) Describe(ctx context.Context, d sources.Descriptor) ([]sources.FieldDescriptor, error) {
	c, err := f.New(d)
	if err != nil {
		return nil, err
	}
	var fields []sources.FieldDescriptor
	err = withConnection(ctx, d.Name, c, func() error {
		var derr error
		fields, derr = c.Describe(ctx)
		return classify(ctx, d.Name, KindQuery, derr)
	})
	if err != nil {
		return nil, err
	}
	MarkIdentity(fields, d.IdentityFields)
	return fields, nil
}

func withConnection(ctx context.Context, source string, c Connector, fn func() error) (err error) {
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = NewError(KindConnection, source, fmt.Errorf("close: %w", cerr))
		}
	}()
	if cerr := c.Connect(ctx); cerr != nil {
		return classify(ctx, source, KindConnection, cerr)
	}
	return fn()
}

// classify wraps err as a SourceError of the given kind unless it already
// is one. Context deadline errors become timeouts.
func classify(ctx context.Context, source string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var serr *SourceError
	if errors.As(err, &serr) {
		return serr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(KindTimeout, source, err)
	}
	return NewError(kind, source, err)
}
