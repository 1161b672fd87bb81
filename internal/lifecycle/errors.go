package lifecycle

import "errors"

// noModelLoadedError is returned by Generate while the slot is empty.
type noModelLoadedError struct{}

func (noModelLoadedError) Error() string { return "no model loaded" }

// ErrNoModelLoaded constructs a noModelLoadedError.
func ErrNoModelLoaded() error { return noModelLoadedError{} }

// IsNoModelLoaded reports whether err indicates generate against an empty slot.
func IsNoModelLoaded(err error) bool {
	var e noModelLoadedError
	return errors.As(err, &e)
}

// allocationError wraps a runtime failure to make a model resident.
type allocationError struct {
	modelID string
	cause   error
}

func (e allocationError) Error() string {
	return "load " + e.modelID + ": " + e.cause.Error()
}

func (e allocationError) Unwrap() error { return e.cause }

// ErrAllocation constructs an allocationError.
func ErrAllocation(modelID string, cause error) error {
	return allocationError{modelID: modelID, cause: cause}
}

// IsAllocation reports whether err is a failed model allocation.
func IsAllocation(err error) bool {
	var e allocationError
	return errors.As(err, &e)
}

// invalidLoadError rejects a malformed LoadRequest before any accelerator work.
type invalidLoadError struct{ msg string }

func (e invalidLoadError) Error() string { return "invalid load request: " + e.msg }

// IsInvalidLoad reports whether err is a rejected LoadRequest.
func IsInvalidLoad(err error) bool {
	var e invalidLoadError
	return errors.As(err, &e)
}
