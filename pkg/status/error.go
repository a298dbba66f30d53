package status

import "fmt"

// StatusError pairs a Status with an optional cause and structured detail,
// following the same fluent-builder shape as pkg/errors.baseError so the two
// error families feel like one system to a caller walking the stack.
type StatusError struct {
	status  Status
	cause   error
	message string
	details map[string]any
}

// New creates a StatusError for the given status and message.
func New(s Status, msg string) *StatusError {
	return &StatusError{status: s, message: msg}
}

// Wrap creates a StatusError around an existing cause.
func Wrap(s Status, cause error, msg string) *StatusError {
	return &StatusError{status: s, cause: cause, message: msg}
}

// WithDetail attaches contextual information and returns the receiver for
// chaining.
func (e *StatusError) WithDetail(key string, value any) *StatusError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Status returns the typed outcome this error represents.
func (e *StatusError) Status() Status {
	return e.status
}

// Details returns the structured context attached to this error.
func (e *StatusError) Details() map[string]any {
	return e.details
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.message == "" {
		return string(e.status)
	}
	return fmt.Sprintf("%s: %s", e.status, e.message)
}

// Unwrap enables errors.Is/errors.As against the wrapped cause.
func (e *StatusError) Unwrap() error {
	return e.cause
}

// Of extracts the Status carried by err, returning Ok when err is nil and
// falling back to DataRot when err does not carry a Status at all (an
// unexpected, unclassified failure reaching a protocol boundary).
func Of(err error) Status {
	if err == nil {
		return Ok
	}
	var se *StatusError
	if As(err, &se) {
		return se.status
	}
	return DataRot
}

// As is a thin wrapper so callers of this package don't need a second import
// of the standard errors package purely for StatusError extraction.
func As(err error, target **StatusError) bool {
	for err != nil {
		if se, ok := err.(*StatusError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
