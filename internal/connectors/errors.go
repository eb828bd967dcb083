package connectors

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a per-source failure.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindQuery      ErrorKind = "query"
	KindTimeout    ErrorKind = "timeout"
	KindConfig     ErrorKind = "config"
)

var (
	ErrConnection   = errors.New("data source unreachable")
	ErrQuery        = errors.New("data source query failed")
	ErrQueryTimeout = errors.New("data source query timed out")
	ErrConfig       = errors.New("data source misconfigured")
)

// SourceError is the single error type connectors and the factory return.
// errors.Is matches both the kind sentinel and the wrapped cause.
type SourceError struct {
	Kind   ErrorKind
	Source string
	Err    error
}

func NewError(kind ErrorKind, source string, err error) *SourceError {
	return &SourceError{Kind: kind, Source: source, Err: err}
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.sentinel())
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.sentinel(), e.Err)
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

// Message is the cause without the source prefix, for per-source reports.
func (e *SourceError) Message() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return e.Err.Error()
}

func (e *SourceError) sentinel() error {
	switch e.Kind {
	case KindConnection:
		return ErrConnection
	case KindTimeout:
		return ErrQueryTimeout
	case KindConfig:
		return ErrConfig
	default:
		return ErrQuery
	}
}

// KindOf reports the kind of err, defaulting to KindQuery for foreign
// errors.
func KindOf(err error) ErrorKind {
	var serr *SourceError
	if errors.As(err, &serr) {
		return serr.Kind
	}
	switch {
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrQueryTimeout):
		return KindTimeout
	case errors.Is(err, ErrConfig):
		return KindConfig
	default:
		return KindQuery
	}
}
