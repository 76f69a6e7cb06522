package detections

import "github.com/pkg/errors"

var (
	// ErrInvalidImageDimensions is returned for zero or negative width, height or target size.
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")
	// ErrInvalidBufferSize is returned when a pixel or prediction buffer has the wrong length.
	ErrInvalidBufferSize = errors.New("invalid buffer size")
	// ErrSchemaMismatch is returned when the prediction feature count does not fit the schema.
	ErrSchemaMismatch = errors.New("prediction schema mismatch")
	// ErrInferenceFailure wraps any error raised by the inference engine.
	ErrInferenceFailure = errors.New("inference failure")
	// ErrEngineNotReady is returned by engines asked to run outside the Ready state.
	ErrEngineNotReady = errors.New("engine not ready")
)

// inferenceError keeps the engine's cause while matching ErrInferenceFailure.
type inferenceError struct {
	cause error
}

func (e *inferenceError) Error() string {
	return ErrInferenceFailure.Error() + ": " + e.cause.Error()
}

func (e *inferenceError) Unwrap() error { return e.cause }

func (e *inferenceError) Is(target error) bool { return target == ErrInferenceFailure }

func wrapInference(err error) error {
	if err == nil {
		return nil
	}
	return &inferenceError{cause: err}
}
