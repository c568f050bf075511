package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating an *Error if the input is not already one.
func Wrap(err error, kind Kind, code, message string) *Error {
	if err == nil {
		return nil
	}

	// Keep the path and context of an inner *Error so the reply still names the file.
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{
			Kind:    kind,
			Code:    code,
			Message: message,
			Cause:   inner,
			Path:    inner.Path,
			Context: inner.Context,
		}
	}

	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapIO wraps an error as an I/O failure about path.
func WrapIO(err error, code, path, message string) *Error {
	e := Wrap(err, KindIO, code, message)
	if e != nil {
		e.Path = path
	}
	return e
}

// Reply renders err as the single-line text sent back on the control
// socket. Every error reply starts with ReplyPrefix.
func Reply(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return ReplyPrefix + e.Error()
	}
	return ReplyPrefix + fmt.Sprintf("[%s] %v", ErrCodeInternalError, err)
}

// ReplyPrefix marks a control socket reply as an error.
const ReplyPrefix = "error: "

// Recover converts a recovered panic value into an internal error.
func Recover(r interface{}) *Error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return NewInternalError(ErrCodeInternalError, "panic while handling request", err)
	}
	return NewInternalError(ErrCodeInternalError, fmt.Sprintf("panic while handling request: %v", r), nil)
}
