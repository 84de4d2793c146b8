package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents the category of a failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindDecodeFailed        Kind = "decode_failed"
	KindInvalidBounds       Kind = "invalid_bounds"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindProcessSpawnFailed  Kind = "process_spawn_failed"
	KindProcessUnresponsive Kind = "process_unresponsive"
	KindUnreachable         Kind = "unreachable"
	KindUnsupported         Kind = "unsupported"
	KindIO                  Kind = "io"
	KindConfig              Kind = "config"
	KindInternal            Kind = "internal"
)

// SiteError is a structured error type with context.
type SiteError struct {
	Kind        Kind
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *SiteError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SiteError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a SiteError of the same kind. A target with an
// empty Code matches any code of that kind.
func (e *SiteError) Is(target error) bool {
	var t *SiteError
	if errors.As(target, &t) {
		if e.Kind != t.Kind {
			return false
		}
		return t.Code == "" || e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SiteError) WithContext(key string, value interface{}) *SiteError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file or directory the error refers to.
func (e *SiteError) WithPath(path string) *SiteError {
	e.Path = path

	return e
}

// WithComponent adds component context.
func (e *SiteError) WithComponent(component string) *SiteError {
	e.Component = component

	return e
}

// Sentinels usable with errors.Is. They carry no code, so they match every
// SiteError of their kind.
var (
	ErrNotFound            = &SiteError{Kind: KindNotFound}
	ErrDecodeFailed        = &SiteError{Kind: KindDecodeFailed}
	ErrInvalidBounds       = &SiteError{Kind: KindInvalidBounds}
	ErrUnsupportedFormat   = &SiteError{Kind: KindUnsupportedFormat}
	ErrProcessSpawnFailed  = &SiteError{Kind: KindProcessSpawnFailed}
	ErrProcessUnresponsive = &SiteError{Kind: KindProcessUnresponsive}
	ErrUnreachable         = &SiteError{Kind: KindUnreachable}
	ErrUnsupported         = &SiteError{Kind: KindUnsupported}
)

// Error creation functions

// NewNotFoundError creates an error for a missing project, asset or marker file.
func NewNotFoundError(code, message string) *SiteError {
	return &SiteError{
		Kind:        KindNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewDecodeError creates an error for an unreadable or corrupt image.
func NewDecodeError(code, message string, cause error) *SiteError {
	return &SiteError{
		Kind:        KindDecodeFailed,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewBoundsError creates an error for out-of-range edit parameters.
func NewBoundsError(code, message string) *SiteError {
	return &SiteError{
		Kind:        KindInvalidBounds,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewFormatError creates an error for a format the encoder cannot produce.
func NewFormatError(code, message string) *SiteError {
	return &SiteError{
		Kind:        KindUnsupportedFormat,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewSpawnError creates an error for a server process that could not start.
func NewSpawnError(code, message string, cause error) *SiteError {
	return &SiteError{
		Kind:        KindProcessSpawnFailed,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewUnresponsiveError creates an error for a server that started but never
// answered a probe.
func NewUnresponsiveError(code, message string) *SiteError {
	return &SiteError{
		Kind:        KindProcessUnresponsive,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewUnreachableError creates an error for a server that stopped answering.
func NewUnreachableError(code, message string, cause error) *SiteError {
	return &SiteError{
		Kind:        KindUnreachable,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewUnsupportedError creates an error for an operation not available in the
// current mode.
func NewUnsupportedError(code, message string) *SiteError {
	return &SiteError{
		Kind:        KindUnsupported,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SiteError {
	return &SiteError{
		Kind:        KindIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *SiteError {
	return &SiteError{
		Kind:        KindConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *SiteError {
	return &SiteError{
		Kind:        KindInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// KindOf returns the kind of the first SiteError in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) Kind {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Kind
	}

	return KindInternal
}

// IsKind reports whether err carries a SiteError of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Kind == kind
	}

	return false
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Recoverable
	}

	return false
}

// Describe renders err as a single human-readable cause string.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var se *SiteError
	if errors.As(err, &se) {
		msg := se.Message
		if se.Cause != nil {
			msg += ": " + se.Cause.Error()
		}
		return msg
	}

	return err.Error()
}
