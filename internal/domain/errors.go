package domain

import "errors"

// Error kinds. Adapters wrap them with fmt.Errorf("...: %w"); refinements
// below unwrap to their kind so errors.Is matches both.
var (
	// ErrConfiguration indicates missing or invalid settings or credentials.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderUnavailable indicates the embedding or generation API failed.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrIndexUnavailable indicates a backing store is unreachable or missing:
	// the vector index or the metadata store.
	ErrIndexUnavailable = errors.New("index or metadata store unavailable")

	// ErrIntegrity indicates broken id correspondence between index and metadata.
	ErrIntegrity = errors.New("integrity error")

	// ErrValidation indicates input rejected before any network call.
	ErrValidation = errors.New("validation error")
)

// Refinements.
var (
	ErrNotFound          = errors.New("not found")
	ErrDimensionMismatch = refine(ErrValidation, "vector dimension mismatch")
	ErrEmptyQuestion     = refine(ErrValidation, "question is empty")
	ErrInvalidK          = refine(ErrValidation, "k must be positive")

	// ErrTransient marks failures worth retrying: timeouts, 5xx, dropped connections.
	ErrTransient = errors.New("transient failure")

	// ErrRateLimited is transient too.
	ErrRateLimited = refine(ErrTransient, "rate limited")

	// ErrAuth marks rejected credentials. Never retried.
	ErrAuth = errors.New("authentication failed")

	// ErrRetrievalFailed is returned by the retriever when no partial result can be produced.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// IsRetryable reports whether err is a transient failure rather than an
// authentication or validation problem.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

type refinedError struct {
	msg  string
	kind error
}

func refine(kind error, msg string) error {
	return &refinedError{msg: msg, kind: kind}
}

func (e *refinedError) Error() string { return e.msg }

func (e *refinedError) Unwrap() error { return e.kind }
