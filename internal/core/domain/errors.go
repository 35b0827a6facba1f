package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrSessionClosed    = errors.New("upload session closed")
	ErrTemporary        = errors.New("temporary failure")
	ErrCancelled        = errors.New("cancelled")
	ErrUploadIncomplete = errors.New("upload incomplete")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
