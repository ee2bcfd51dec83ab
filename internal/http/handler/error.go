package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"studentdocs/internal/http/middleware"
	"studentdocs/internal/service"
)

// Error kinds returned in the "error" field.
const (
	KindInvalidRequest         = "InvalidRequest"
	KindUnauthorized           = "Unauthorized"
	KindNotFound               = "NotFound"
	KindMethodNotAllowed       = "MethodNotAllowed"
	KindFileTooLarge           = "FileTooLarge"
	KindUnsupportedContentType = "UnsupportedContentType"
	KindRateLimited            = "RateLimited"
	KindInternalError          = "InternalError"
	KindInconsistentState      = "InconsistentState"
	KindStorageUnavailable     = "StorageUnavailable"
)

// retryAfterSeconds is advertised on every 503.
const retryAfterSeconds = 5

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
func writeError(c *fiber.Ctx, status int, kind, message string) error {
	if status == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds))
	}
	return c.Status(status).JSON(errorPayload{
		RequestID: requestIDFromCtx(c),
		Error:     kind,
		Message:   message,
	})
}

// writeServiceError maps a service error onto the wire taxonomy. Validation messages are
// built from caller input and are safe to echo; everything else gets a fixed message and
// the detail goes to the log.
func writeServiceError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidCategory):
		return writeError(c, fiber.StatusBadRequest, KindInvalidRequest, err.Error())
	case errors.Is(err, service.ErrUnsupportedContentType):
		return writeError(c, fiber.StatusUnsupportedMediaType, KindUnsupportedContentType, err.Error())
	case errors.Is(err, service.ErrFileTooLarge):
		return writeError(c, fiber.StatusRequestEntityTooLarge, KindFileTooLarge, err.Error())
	case errors.Is(err, service.ErrNotFound):
		// Covers ErrForbidden: another owner's document is indistinguishable from a missing one.
		return writeError(c, fiber.StatusNotFound, KindNotFound, "document not found")
	}

	ev := log.Error().Err(err).Str("request_id", requestIDFromCtx(c)).Str("path", c.Path())
	switch {
	case errors.Is(err, service.ErrStorageUnavailable):
		ev.Msg("storage unavailable")
		return writeError(c, fiber.StatusServiceUnavailable, KindStorageUnavailable, "storage temporarily unavailable, retry later")
	case errors.Is(err, service.ErrInconsistentState):
		ev.Msg("inconsistent document state")
		return writeError(c, fiber.StatusInternalServerError, KindInconsistentState, "document is in an inconsistent state")
	default:
		ev.Msg("unhandled service error")
		return writeError(c, fiber.StatusInternalServerError, KindInternalError, "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, KindInvalidRequest, "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, KindUnauthorized, "authentication required")
		case fiber.StatusNotFound:
			return writeError(c, status, KindNotFound, "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, KindMethodNotAllowed, "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, KindFileTooLarge, "request body too large")
		case fiber.StatusUnsupportedMediaType:
			return writeError(c, status, KindUnsupportedContentType, "unsupported content type")
		case fiber.StatusTooManyRequests:
			return writeError(c, status, KindRateLimited, "too many requests")
		case fiber.StatusServiceUnavailable:
			return writeError(c, status, KindStorageUnavailable, "service temporarily unavailable")
		default:
			log.Error().Err(err).Str("request_id", requestIDFromCtx(c)).Str("path", c.Path()).Msg("unhandled error")
			return writeError(c, fiber.StatusInternalServerError, KindInternalError, "internal server error")
		}
	}
}
