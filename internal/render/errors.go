package render

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by the rendering pipeline matches exactly
// one of these through errors.Is.
var (
	// ErrConfiguration covers invalid limits and empty palettes. Fatal to the
	// operation that triggered it; no partial session is created.
	ErrConfiguration = errors.New("render: configuration error")

	// ErrSource covers download, open and decode failures. Terminates the owning
	// session without retry.
	ErrSource = errors.New("render: source error")

	// ErrWrite is a single failed cell write. Logged and skipped.
	ErrWrite = errors.New("render: write error")

	// ErrCancelled is the normal terminal state of a stopped session.
	ErrCancelled = errors.New("render: cancelled")
)

// Error attaches an operation name to one of the error kinds above.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

func Configf(op, format string, args ...any) error {
	return &Error{Op: op, Kind: ErrConfiguration, Err: fmt.Errorf(format, args...)}
}

func SourceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: ErrSource, Err: err}
}

func WriteErr(op string, err error) error {
	return &Error{Op: op, Kind: ErrWrite, Err: err}
}

// Kind reports the taxonomy name of err, or "" if it is not a render error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrSource):
		return "source"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	}
	return ""
}
