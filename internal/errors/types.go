// Package errors defines the structured error type shared by the fwatch
// daemon, its control protocol and its clients.
//
// Every failure that can cross a package boundary is an *Error carrying a
// Kind. The control server turns an *Error into a one-line textual reply,
// the watch loop hands it to a Handler for logging, and tests classify it
// with the Is* helpers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind represents different categories of errors.
type Kind string

const (
	KindDecode      Kind = "decode"
	KindNotFound    Kind = "not_found"
	KindAmbiguous   Kind = "ambiguous"
	KindIO          Kind = "io"
	KindScript      Kind = "script"
	KindUnsupported Kind = "unsupported"
	KindValidation  Kind = "validation"
	KindInternal    Kind = "internal"
)

// Error is a structured error type with context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Path    string
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path+":")
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison. Two errors match when kind and code agree.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file path the error is about.
func (e *Error) WithPath(path string) *Error {
	e.Path = path

	return e
}

// Common error codes.
const (
	ErrCodeMalformedPacket  = "ERR_MALFORMED_PACKET"
	ErrCodeSchemaVersion    = "ERR_SCHEMA_VERSION"
	ErrCodeFrameTooLarge    = "ERR_FRAME_TOO_LARGE"
	ErrCodeUnknownCommand   = "ERR_UNKNOWN_COMMAND"
	ErrCodePathNotTracked   = "ERR_PATH_NOT_TRACKED"
	ErrCodeSnapshotNotFound = "ERR_SNAPSHOT_NOT_FOUND"
	ErrCodeAmbiguousPrefix  = "ERR_AMBIGUOUS_PREFIX"
	ErrCodeInvalidPath      = "ERR_INVALID_PATH"
	ErrCodeInvalidPattern   = "ERR_INVALID_PATTERN"
	ErrCodeInvalidPrefix    = "ERR_INVALID_PREFIX"
	ErrCodeReadFailed       = "ERR_READ_FAILED"
	ErrCodeWriteFailed      = "ERR_WRITE_FAILED"
	ErrCodeScriptFailed     = "ERR_SCRIPT_FAILED"
	ErrCodeScriptTimeout    = "ERR_SCRIPT_TIMEOUT"
	ErrCodeScriptNotFound   = "ERR_SCRIPT_NOT_FOUND"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// Error creation functions

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// NewDecodeError creates a decode error for a malformed packet or payload.
func NewDecodeError(code, message string, cause error) *Error {
	return &Error{Kind: KindDecode, Code: code, Message: message, Cause: cause}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *Error {
	return &Error{Kind: KindIO, Code: code, Message: message, Cause: cause}
}

// NewScriptError creates a script failure.
func NewScriptError(code, message string, cause error) *Error {
	return &Error{Kind: KindScript, Code: code, Message: message, Cause: cause}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: code, Message: message, Cause: cause}
}

// Helper functions for common errors

// ErrPathNotTracked reports a path with no registry entry.
func ErrPathNotTracked(path string) *Error {
	return NewNotFoundError(ErrCodePathNotTracked, "path is not tracked").WithPath(path)
}

// ErrSnapshotNotFound reports that no snapshot of path starts with prefix.
func ErrSnapshotNotFound(path, prefix string) *Error {
	return NewNotFoundError(ErrCodeSnapshotNotFound, "no snapshot matches hash prefix "+prefix).
		WithPath(path).
		WithContext("prefix", prefix)
}

// ErrAmbiguousPrefix reports that prefix matches several distinct digests.
func ErrAmbiguousPrefix(path, prefix string, candidates []string) *Error {
	return &Error{
		Kind:    KindAmbiguous,
		Code:    ErrCodeAmbiguousPrefix,
		Message: fmt.Sprintf("hash prefix %s matches %d snapshots", prefix, len(candidates)),
		Path:    path,
		Context: map[string]interface{}{"prefix": prefix, "candidates": candidates},
	}
}

// ErrUnsupportedCommand reports a command tag the daemon does not know.
func ErrUnsupportedCommand(tag uint64) *Error {
	return New(KindUnsupported, ErrCodeUnknownCommand, fmt.Sprintf("unsupported command %d", tag))
}

// ErrInvalidPath creates a path validation error.
func ErrInvalidPath(path, reason string) *Error {
	return NewValidationError(ErrCodeInvalidPath, "invalid path: "+reason).WithPath(path)
}

// Classification

// KindOf returns the kind of err, KindInternal for foreign errors and ""
// for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsAmbiguous checks if an error reports an ambiguous hash prefix.
func IsAmbiguous(err error) bool { return hasKind(err, KindAmbiguous) }

// IsDecode checks if an error is a decode error.
func IsDecode(err error) bool { return hasKind(err, KindDecode) }

// IsIO checks if an error is an I/O failure.
func IsIO(err error) bool { return hasKind(err, KindIO) }

// IsScript checks if an error is a script failure.
func IsScript(err error) bool { return hasKind(err, KindScript) }

// IsUnsupported checks if an error is an unsupported command.
func IsUnsupported(err error) bool { return hasKind(err, KindUnsupported) }

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return hasKind(err, KindValidation) }

func hasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}

	return false
}

// Handler provides centralized error handling for the watch loop, where
// errors are recorded and never propagated.
type Handler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewHandler creates a new error handler.
func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle logs err at a level chosen by its kind.
func (h *Handler) Handle(ctx context.Context, err error, fields ...interface{}) {
	if err == nil || h.logger == nil {
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error(ctx, err, "Unhandled error occurred", fields...)
		return
	}

	fields = append(fields, "kind", string(e.Kind), "code", e.Code)
	if e.Path != "" {
		fields = append(fields, "path", e.Path)
	}

	switch e.Kind {
	case KindScript, KindNotFound, KindValidation:
		h.logger.Warn(ctx, err, "Action failed", fields...)
	default:
		h.logger.Error(ctx, err, "Error occurred", fields...)
	}
}
