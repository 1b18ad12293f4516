package txsearch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIndexingUnavailable matches service errors reporting that the node
	// does not index transactions.
	ErrIndexingUnavailable = errors.New("transaction indexing unavailable")
	// ErrQuerySyntax matches service errors rejecting the query itself.
	ErrQuerySyntax = errors.New("query syntax error")
)

// NetworkError is a transport failure: timeout, refused connection or a
// non-2xx response without a service error body. It is retried.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceErrorKind classifies a structured error returned by the service.
type ServiceErrorKind string

const (
	KindIndexingUnavailable ServiceErrorKind = "indexing_unavailable"
	KindQuerySyntax         ServiceErrorKind = "query_syntax"
	KindGeneric             ServiceErrorKind = "generic"
)

// ServiceError is an error object reported by the indexing service. It is
// never retried.
type ServiceError struct {
	Code    int64
	Message string
	Data    string
	Kind    ServiceErrorKind
}

func newServiceError(code int64, message, data string) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: message,
		Data:    data,
		Kind:    classifyServiceError(message + " " + data),
	}
}

func classifyServiceError(text string) ServiceErrorKind {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "indexing is disabled"),
		strings.Contains(t, "indexing disabled"),
		strings.Contains(t, "indexer is disabled"):
		return KindIndexingUnavailable
	case strings.Contains(t, "failed to parse query"),
		strings.Contains(t, "invalid query"),
		strings.Contains(t, "syntax error"),
		strings.Contains(t, "invalid event"):
		return KindQuerySyntax
	default:
		return KindGeneric
	}
}

func (e *ServiceError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("service error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("service error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match the kind sentinels.
func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrIndexingUnavailable:
		return e.Kind == KindIndexingUnavailable
	case ErrQuerySyntax:
		return e.Kind == KindQuerySyntax
	}
	return false
}

// EnvelopeShapeError is returned for a response matching no known envelope.
type EnvelopeShapeError struct {
	Snippet string
}

func (e *EnvelopeShapeError) Error() string {
	return fmt.Sprintf("unrecognized response envelope: %s", e.Snippet)
}

// QueryError records where a query stopped and why.
type QueryError struct {
	Query string
	Page  int
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed on page %d: %v", e.Query, e.Page, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
