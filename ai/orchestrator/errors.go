package orchestrator

import "github.com/pkg/errors"

// Error taxonomy for a generation turn. Validation failures happen
// before any persistence or provider call; mid-stream failures leave
// state recoverable through the stream tracker.
var (
	// ErrInvalidInput marks bad thread/model/attachment references.
	// Client error, not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrToolIterationLimit marks a model that kept requesting tools
	// past the configured bound. Surfaced as an error event.
	ErrToolIterationLimit = errors.New("tool iteration limit exceeded")

	// ErrStreamNotResumable marks a resume attempt against a stream
	// that is missing, terminal, or past the pending timeout.
	ErrStreamNotResumable = errors.New("stream not resumable")
)

func invalidInputf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}
