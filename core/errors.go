package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput              = "OUTBOUND_BAD_INPUT"
	ErrorNotFound              = "OUTBOUND_NOT_FOUND"
	ErrorDeliveryFailed        = "OUTBOUND_DELIVERY_FAILED"
	ErrorHandlerTimeout        = "OUTBOUND_HANDLER_TIMEOUT"
	ErrorEncryptionKeyMismatch = "OUTBOUND_ENCRYPTION_KEY_MISMATCH"
	ErrorConfigInvalid         = "OUTBOUND_CONFIG_INVALID"
	ErrorQueueUnavailable      = "OUTBOUND_QUEUE_UNAVAILABLE"
	ErrorHandlerNotFound       = "OUTBOUND_HANDLER_NOT_FOUND"
	ErrorRateLimited           = "OUTBOUND_RATE_LIMITED"
	ErrorInternal              = "OUTBOUND_INTERNAL"
)

func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func WrapError(source error, category goerrors.Category, textCode string, message string) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(source, category, message).
			WithTextCode(textCode),
	)
}

// MapError converts any error into a go-errors envelope with an outbound text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrOutboxMessageNotFound),
		errors.Is(err, ErrSubscriptionNotFound),
		errors.Is(err, ErrJobNotFound):
		return WrapError(err, goerrors.CategoryNotFound, ErrorNotFound, err.Error())
	case errors.Is(err, ErrHandlerNotFound):
		return WrapError(err, goerrors.CategoryNotFound, ErrorHandlerNotFound, err.Error())
	case errors.Is(err, ErrInvalidEnvelope):
		return WrapError(err, goerrors.CategoryBadInput, ErrorBadInput, err.Error())
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return WrapError(err, goerrors.CategoryBadInput, ErrorBadInput, err.Error())
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

// IsErrorCode reports whether err carries the given outbound text code.
func IsErrorCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryExternal:
		return ErrorDeliveryFailed
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
