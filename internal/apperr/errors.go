// Package apperr classifies failures that cross component boundaries.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindConflict
	KindProvider
	KindTimeout
	KindPlatformPublish
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindProvider:
		return "provider"
	case KindTimeout:
		return "timeout"
	case KindPlatformPublish:
		return "platform_publish"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Violation is a single failed rule of a request schema.
type Violation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Rule
}

type Error struct {
	Kind       Kind
	Message    string
	Provider   string
	Platform   string
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.String()
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string, violations ...Violation) *Error {
	return &Error{Kind: KindValidation, Message: msg, Violations: violations}
}

func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Provider(provider string, err error) *Error {
	return &Error{Kind: KindProvider, Message: "provider " + provider + " failed", Provider: provider, Err: err}
}

func Timeout(provider string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: "provider " + provider + " timed out", Provider: provider, Err: err}
}

func PlatformPublish(platform string, err error) *Error {
	return &Error{Kind: KindPlatformPublish, Message: "publish to " + platform + " failed", Platform: platform, Err: err}
}

func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns a message safe to show to the caller.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
