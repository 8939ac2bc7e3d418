package ai

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the category of a backend failure.
type Kind string

const (
	KindGeneric            Kind = "generic"
	KindRateLimited        Kind = "rate_limited"
	KindAuthInvalid        Kind = "auth_invalid"
	KindServiceUnavailable Kind = "service_unavailable"
)

// Classifier maps a backend error onto a Kind.
type Classifier interface {
	Classify(err error) Kind
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(err error) Kind

func (f ClassifierFunc) Classify(err error) Kind {
	return f(err)
}

// Error is a classified backend failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindGeneric.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindGeneric
}

// Status codes only match as whole numbers so ids and sizes in a message do
// not trip them.
var (
	rateLimitMarkers   = regexp.MustCompile(`\b429\b|quota|rate limit`)
	authMarkers        = regexp.MustCompile(`\b40[13]\b|api[ _]key|unauthenticated|permission denied|unauthorized`)
	unavailableMarkers = regexp.MustCompile(`\b503\b|unavailable|overloaded`)
)

// ClassifyMessage classifies err by looking for well known markers in its
// message. Rate limiting wins over the other categories.
func ClassifyMessage(err error) Kind {
	if err == nil {
		return KindGeneric
	}

	msg := strings.ToLower(err.Error())
	switch {
	case rateLimitMarkers.MatchString(msg):
		return KindRateLimited
	case authMarkers.MatchString(msg):
		return KindAuthInvalid
	case unavailableMarkers.MatchString(msg):
		return KindServiceUnavailable
	default:
		return KindGeneric
	}
}

// KindFromStatus maps an HTTP status code onto a Kind. ok is false when the
// code carries no classification on its own.
func KindFromStatus(code int) (Kind, bool) {
	switch code {
	case 429:
		return KindRateLimited, true
	case 401, 403:
		return KindAuthInvalid, true
	case 503, 529:
		return KindServiceUnavailable, true
	default:
		return KindGeneric, false
	}
}
