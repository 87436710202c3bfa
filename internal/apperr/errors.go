// Package apperr classifies failures of an analysis run so callers can decide
// whether to skip a tile, skip an image or abort the run.
package apperr

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConfiguration is a violated settings invariant. Fatal before the run starts.
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeDecode is an unreadable image. The image is skipped.
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeProcessing is a failure inside one tile. The tile is skipped.
	ErrorTypeProcessing ErrorType = "processing"
	// ErrorTypeResource is an exceeded memory budget. The image is skipped.
	ErrorTypeResource ErrorType = "resource"
	// ErrorTypeCancelled marks a cooperative stop.
	ErrorTypeCancelled ErrorType = "cancelled"
)

// ErrCancelled is returned when a run was stopped on request.
var ErrCancelled = &AppError{Type: ErrorTypeCancelled, Message: "run cancelled"}

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Image   string    `json:"image,omitempty"`
	Tile    string    `json:"tile,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Image != "" {
		msg += fmt.Sprintf(" [image=%s", e.Image)
		if e.Tile != "" {
			msg += fmt.Sprintf(" tile=%s", e.Tile)
		}
		msg += "]"
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is match on the error type.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// WithImage returns a copy annotated with the image and tile it occurred in.
func (e *AppError) WithImage(image, tile string) *AppError {
	c := *e
	c.Image = image
	c.Tile = tile
	return &c
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeConfiguration, Message: message, Cause: cause}
}

// NewDecodeError creates a new decode error
func NewDecodeError(message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeDecode, Message: message, Cause: cause}
}

// NewProcessingError creates a new processing error
func NewProcessingError(message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeProcessing, Message: message, Cause: cause}
}

// NewResourceError creates a new resource error
func NewResourceError(message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeResource, Message: message, Cause: cause}
}

// IsType checks if the error or any error it wraps is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of the first AppError in the chain, or "" if there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}
