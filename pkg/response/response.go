// Package response shapes operation results into the success/message/data envelope.
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reelforge/internal/apperr"
)

const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeProviderError   = "PROVIDER_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodePublishError    = "PUBLISH_ERROR"
	CodeServiceError    = "SERVICE_ERROR"
)

type Envelope[T any] struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Code       string             `json:"code,omitempty"`
	Violations []apperr.Violation `json:"violations,omitempty"`
	Data       T                  `json:"data,omitempty"`
}

func OK[T any](message string, data T) Envelope[T] {
	return Envelope[T]{Success: true, Message: message, Data: data}
}

// Fail builds an envelope from err. Persistence and unclassified failures get a
// generic message so internal details do not leak to callers.
func Fail[T any](err error) Envelope[T] {
	env := Envelope[T]{Code: Code(err)}

	var e *apperr.Error
	if errors.As(err, &e) {
		env.Violations = e.Violations
		switch e.Kind {
		case apperr.KindPersistence, apperr.KindUnknown:
			env.Message = "internal error"
		default:
			env.Message = e.Message
		}
		return env
	}
	env.Message = "internal error"
	return env
}

// From returns OK(message, data) when err is nil and Fail otherwise.
func From[T any](data T, message string, err error) Envelope[T] {
	if err != nil {
		return Fail[T](err)
	}
	return OK(message, data)
}

func Code(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return CodeValidationError
	case apperr.KindAuth:
		return CodeUnauthorized
	case apperr.KindNotFound:
		return CodeNotFound
	case apperr.KindConflict:
		return CodeConflict
	case apperr.KindProvider:
		return CodeProviderError
	case apperr.KindTimeout:
		return CodeTimeout
	case apperr.KindPlatformPublish:
		return CodePublishError
	default:
		return CodeServiceError
	}
}

// StatusCode maps an error to the HTTP status an API layer should answer with.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindProvider, apperr.KindPlatformPublish:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes env with a status derived from err.
func JSON[T any](c *gin.Context, env Envelope[T], err error) {
	c.JSON(StatusCode(err), env)
}
