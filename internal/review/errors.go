package review

import (
	"errors"
	"fmt"
)

// Kind is the machine readable category of a pipeline failure.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindParse              Kind = "parse"
	KindRateLimited        Kind = "rate_limited"
	KindAuthInvalid        Kind = "auth_invalid"
	KindServiceUnavailable Kind = "service_unavailable"
	KindUpstream           Kind = "upstream"
)

// Error is returned by the Service for every failure it surfaces.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, defaulting to KindUpstream for errors that
// did not originate in the pipeline.
func KindOf(err error) Kind {
	var reviewErr *Error
	if errors.As(err, &reviewErr) {
		return reviewErr.Kind
	}
	return KindUpstream
}

// MessageOf returns the user facing message for err.
func MessageOf(err error) string {
	var reviewErr *Error
	if errors.As(err, &reviewErr) {
		return reviewErr.Message
	}
	return err.Error()
}
