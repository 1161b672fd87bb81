package engine

import "errors"

// dependencyUnavailableError signals a missing external runtime (binary not
// installed, llama support not compiled in) so the HTTP layer can return 503.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err, or anything it wraps, is a
// dependency-unavailable error.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}

// errNotSupported is returned by optional capabilities a runtime lacks.
var errNotSupported = errors.New("not supported by runtime")
