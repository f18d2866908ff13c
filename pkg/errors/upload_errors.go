package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a failure class of the upload/compress/retrieve lifecycle.
type ErrorCode string

const (
	// Admission control
	ErrQueueFull ErrorCode = "QUEUE_FULL"

	// Token lifecycle
	ErrInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrNotFound     ErrorCode = "NOT_FOUND"

	// Upload validation
	ErrUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrEmptyFile            ErrorCode = "EMPTY_FILE"
	ErrTruncatedUpload      ErrorCode = "TRUNCATED_UPLOAD"
	ErrMalformedUpload      ErrorCode = "MALFORMED_UPLOAD"

	// Soft limits, answered with a redirect back to the form
	ErrFilesLimitExceeded  ErrorCode = "FILES_LIMIT_EXCEEDED"
	ErrFieldsLimitExceeded ErrorCode = "FIELDS_LIMIT_EXCEEDED"

	// Codec
	ErrCompression ErrorCode = "COMPRESSION_FAILED"

	// Unexpected failures
	ErrInternal ErrorCode = "INTERNAL"
)

var statusByCode = map[ErrorCode]int{
	ErrQueueFull:            http.StatusServiceUnavailable,
	ErrInvalidToken:         http.StatusNotFound,
	ErrNotFound:             http.StatusNotFound,
	ErrUnsupportedMediaType: http.StatusUnsupportedMediaType,
	ErrEmptyFile:            http.StatusBadRequest,
	ErrTruncatedUpload:      http.StatusRequestEntityTooLarge,
	ErrMalformedUpload:      http.StatusBadRequest,
	ErrFilesLimitExceeded:   http.StatusSeeOther,
	ErrFieldsLimitExceeded:  http.StatusSeeOther,
	ErrCompression:          http.StatusInternalServerError,
	ErrInternal:             http.StatusInternalServerError,
}

// Error is a structured error carrying a code, a client-facing message and
// optional context.
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Token     string                 `json:"token,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Token != "" {
		msg += fmt.Sprintf(" (token: %s)", e.Token)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so sentinel-style comparisons work
// through wrapping: errors.Is(err, errors.New(ErrQueueFull, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps the code to the status the HTTP front answers with.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates a new structured error.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WithToken adds the upload token the failure relates to.
func (e *Error) WithToken(token string) *Error {
	e.Token = token
	return e
}

// WithCause adds the underlying cause error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithContext adds arbitrary context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	e.Context[key] = value
	return e
}

// Wrap wraps a regular error as an *Error.
func Wrap(err error, code ErrorCode, message string) *Error {
	return New(code, message).WithCause(err)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return Code(err) == code
}

// IsSoftLimit reports whether err is a files or fields limit signal.
func IsSoftLimit(err error) bool {
	switch Code(err) {
	case ErrFilesLimitExceeded, ErrFieldsLimitExceeded:
		return true
	}
	return false
}

// Common constructors

func NewQueueFullError(message string) *Error {
	return New(ErrQueueFull, message)
}

func NewInvalidTokenError(token string) *Error {
	return New(ErrInvalidToken, "Invalid request.").WithToken(token)
}

func NewUnsupportedMediaTypeError(mimeType string) *Error {
	return New(ErrUnsupportedMediaType, "File is not a valid image type.").
		WithContext("mimetype", mimeType)
}

func NewEmptyFileError() *Error {
	return New(ErrEmptyFile, "File is empty.")
}

func NewTruncatedUploadError(cause error) *Error {
	return New(ErrTruncatedUpload, "File was truncated.").WithCause(cause)
}

func NewMalformedUploadError(cause error) *Error {
	return New(ErrMalformedUpload, "Malformed upload.").WithCause(cause)
}

func NewFilesLimitError() *Error {
	return New(ErrFilesLimitExceeded, "Only one file can be uploaded at a time.")
}

func NewFieldsLimitError() *Error {
	return New(ErrFieldsLimitExceeded, "Form fields are not accepted.")
}

func NewCompressionError(mimeType string, cause error) *Error {
	return New(ErrCompression, "Image optimization failed.").
		WithContext("mimetype", mimeType).
		WithCause(cause)
}
