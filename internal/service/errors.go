package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("document not found")
	// ErrForbidden is only ever returned wrapped around ErrNotFound, so callers that
	// check errors.Is(err, ErrNotFound) never tell the two apart.
	ErrForbidden              = fmt.Errorf("documents belong to another owner: %w", ErrNotFound)
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrInconsistentState      = errors.New("inconsistent document state")
	ErrUnsupportedContentType = errors.New("content type not allowed for category")
	ErrFileTooLarge           = errors.New("file too large")
	ErrInvalidCategory        = errors.New("unknown document category")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
