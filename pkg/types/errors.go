package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the response pipeline. Match them with [errors.Is].
var (
	// ErrMediaRead means binary input could not be read or converted.
	ErrMediaRead = errors.New("media read failed")

	// ErrTransport means a model, blob or store call failed.
	ErrTransport = errors.New("transport failed")

	// ErrMalformedOutput means the model produced non-empty text that does
	// not parse into the requested shape.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrEmptyOutput means the model produced neither text nor thoughts.
	ErrEmptyOutput = errors.New("empty model output")

	// ErrEnrichmentStep means one note's enrichment sub-step failed.
	ErrEnrichmentStep = errors.New("enrichment step failed")
)

// Error annotates a cause with one of the kinds above and the operation that
// failed. errors.Is matches both the kind and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// Errorf builds an *Error of kind for op, wrapping a formatted cause.
func Errorf(kind error, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap returns err annotated with kind and op. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the first known kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrMediaRead, ErrTransport, ErrMalformedOutput, ErrEmptyOutput, ErrEnrichmentStep} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
