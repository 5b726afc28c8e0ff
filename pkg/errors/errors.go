// Package errors provides structured error handling for fedstream.
//
// Three categories matter to the streaming core:
//
//   - ErrorTypeConfig: raised synchronously while constructing sources or
//     validating configuration. Never reaches the streaming path.
//   - ErrorTypeFetch: a per-fetch fault (I/O, decode, exchange conversion).
//     Contained to its source and surfaced to the consumer once as a failure.
//   - ErrorTypeProtocol: an internal invariant breach. Never recoverable; it
//     aborts the streamer that observed it.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors raised at construction time
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFetch represents a failed fetch from a single source
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeConversion represents a failed exchange-format conversion
	ErrorTypeConversion ErrorType = "conversion"
	// ErrorTypeProtocol represents a violated internal invariant
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeData represents data decoding errors
	ErrorTypeData ErrorType = "data"
)

// Detail keys shared across packages.
const (
	DetailSource   = "source"
	DetailLocation = "location"
	DetailCursor   = "cursor"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns the string form of a detail, or "" when absent.
func (e *Error) Detail(key string) string {
	v, ok := e.Details[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Details: copyDetails(existingErr.Details),
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Config builds a configuration error for the named source.
func Config(source, message string, cause error) *Error {
	e := &Error{Type: ErrorTypeConfig, Message: message, Cause: cause, Stack: captureStack(2)}
	if source != "" {
		e.WithDetail(DetailSource, source)
	}
	return e
}

// Fetch builds a fetch error tagged with its source and location.
func Fetch(source, location string, cause error) *Error {
	e := &Error{Type: ErrorTypeFetch, Message: "fetch failed", Cause: cause, Stack: captureStack(2)}
	e.WithDetail(DetailSource, source)
	if location != "" {
		e.WithDetail(DetailLocation, location)
	}
	return e
}

// Protocol builds a protocol violation.
func Protocol(format string, args ...interface{}) *Error {
	return &Error{
		Type:    ErrorTypeProtocol,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsFatal reports whether err must abort the whole streamer.
func IsFatal(err error) bool {
	return IsType(err, ErrorTypeProtocol)
}

// SourceOf returns the source name attached to err, if any.
func SourceOf(err error) string {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return ""
		}
		if s := e.Detail(DetailSource); s != "" {
			return s
		}
		err = e.Cause
	}
	return ""
}

// Is, As and Join forward to the standard library so callers need a single import.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
