package foryou

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ServiceError for callers that map failures onto a transport.
type ErrorKind string

const (
	KindInvalidArgument     ErrorKind = "invalid_argument"
	KindUnauthenticated     ErrorKind = "unauthenticated"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindNoContent           ErrorKind = "no_content"
	KindNothingToReport     ErrorKind = "nothing_to_report"
	KindNotFound            ErrorKind = "not_found"
	KindInternal            ErrorKind = "internal"
)

var (
	ErrInvalidArgument     = errors.New("foryou: invalid argument")
	ErrUnauthenticated     = errors.New("foryou: unauthenticated")
	ErrUpstreamUnavailable = errors.New("foryou: upstream unavailable")
	ErrNoContent           = errors.New("foryou: no content")
	ErrNothingToReport     = errors.New("foryou: nothing to report")
	ErrNotFound            = errors.New("foryou: not found")
	ErrInternal            = errors.New("foryou: internal error")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidArgument:     ErrInvalidArgument,
	KindUnauthenticated:     ErrUnauthenticated,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindNoContent:           ErrNoContent,
	KindNothingToReport:     ErrNothingToReport,
	KindNotFound:            ErrNotFound,
	KindInternal:            ErrInternal,
}

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingSource     = errors.New("post source is required")
	errMissingCompleter  = errors.New("completer is required")
	errMissingCache      = errors.New("feed cache is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingToken      = errors.New("reddit access token is required")
	errInvalidSubreddit  = errors.New("subreddit name is invalid")
	errInvalidAction     = errors.New("triage action is invalid")
	errInvalidPostID     = errors.New("post identifier is required")
)

// ServiceError carries an "<operation>.<reason>" code and the taxonomy kind of a failure.
type ServiceError struct {
	code string
	kind ErrorKind
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// Is matches the kind sentinel so callers can write errors.Is(err, ErrNotFound).
func (e *ServiceError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.kind]
	return ok && sentinel == target
}

func newServiceError(operation, reason string, kind ErrorKind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}

func internalError(operation, reason string, cause error) error {
	return newServiceError(operation, reason, KindInternal, cause)
}
