package memory

import "github.com/m-mizutani/goerr/v2"

// Error kinds. Every error returned by Manager carries exactly one of these
// tags so callers can decide between fixing input, remediating the model
// backend, or checking the storage medium.
var (
	// ErrInvalidInput marks caller errors: empty content or query, tag
	// count/length violations, out-of-range limit. Never retried.
	ErrInvalidInput = goerr.NewTag("invalid_input")

	// ErrModelUnavailable marks failures to load or run the embedding model.
	ErrModelUnavailable = goerr.NewTag("model_unavailable")

	// ErrPersistenceFailure marks storage failures. A store call carrying
	// this tag did not persist anything.
	ErrPersistenceFailure = goerr.NewTag("persistence_failure")
)

// IsInvalidInput reports whether err is a caller error.
func IsInvalidInput(err error) bool {
	return goerr.HasTag(err, ErrInvalidInput)
}

// IsModelUnavailable reports whether err came from the embedding backend.
func IsModelUnavailable(err error) bool {
	return goerr.HasTag(err, ErrModelUnavailable)
}

// IsPersistenceFailure reports whether err came from the storage backend.
func IsPersistenceFailure(err error) bool {
	return goerr.HasTag(err, ErrPersistenceFailure)
}
