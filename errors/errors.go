package errors

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Error is a structured failure with a code, a category and optional
// context about the task and retry timing.
type Error struct {
	code       ErrorCode
	category   ErrorCategory
	message    string
	cause      error
	metadata   map[string]string
	retryable  *bool // nil means use the category default
	retryAfter time.Duration
	timestamp  time.Time
	taskID     int64
}

var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Message returns the message without the cause chain.
func (e *Error) Message() string {
	return e.message
}

// Retryable reports whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// RetryAfter returns the backoff requested by the transport, or zero.
func (e *Error) RetryAfter() time.Duration {
	return e.retryAfter
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error was created.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// TaskID returns the related task, or zero.
func (e *Error) TaskID() int64 {
	return e.taskID
}

type errorJSON struct {
	Code         ErrorCode         `json:"code"`
	Category     ErrorCategory     `json:"category"`
	Message      string            `json:"message"`
	Cause        string            `json:"cause,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Retryable    bool              `json:"retryable"`
	RetryAfterMs int64             `json:"retry_after_ms,omitempty"`
	Timestamp    string            `json:"timestamp,omitempty"`
	TaskID       int64             `json:"task_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:         e.code,
		Category:     e.category,
		Message:      e.message,
		Metadata:     e.metadata,
		Retryable:    e.Retryable(),
		RetryAfterMs: e.retryAfter.Milliseconds(),
		TaskID:       e.taskID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler. A missing category falls back
// to the code's default so gateways may send only a code.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	if e.category == "" {
		e.category = j.Code.DefaultCategory()
	}
	e.message = j.Message
	if e.message == "" {
		e.message = j.Code.Description()
	}
	e.metadata = j.Metadata
	e.taskID = j.TaskID
	e.retryAfter = time.Duration(j.RetryAfterMs) * time.Millisecond
	if j.Category != "" {
		r := j.Retryable
		e.retryable = &r
	}
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option configures an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithRetryAfter records the backoff requested by the remote side.
func WithRetryAfter(d time.Duration) Option {
	return func(e *Error) {
		e.retryAfter = d
	}
}

// WithMetadata adds a metadata pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithHint attaches a format hint shown to the user next to the message.
func WithHint(hint string) Option {
	return WithMetadata("hint", hint)
}

// WithTaskID sets the related task.
func WithTaskID(id int64) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error using the code's description as message.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// TaskNotFound creates a NOT_FOUND error for a task id.
func TaskNotFound(id int64) *Error {
	return New(ErrCodeNotFound, "task #"+strconv.FormatInt(id, 10)+" not found", WithTaskID(id))
}

// AlreadyTerminal creates an ALREADY_TERMINAL error for a task id.
func AlreadyTerminal(id int64, status string) *Error {
	return Newf(ErrCodeAlreadyTerminal, "task #%d is already %s", id, status).with(WithTaskID(id))
}

// NotAuthor creates a NOT_AUTHOR error for a task id.
func NotAuthor(id int64) *Error {
	return Newf(ErrCodeNotAuthor, "only the author of task #%d can do this", id).with(WithTaskID(id))
}

// InvalidInput creates an INVALID_INPUT error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// RateLimited creates a RATE_LIMITED error.
func RateLimited(message string, opts ...Option) *Error {
	return New(ErrCodeRateLimit, message, opts...)
}

// Undeliverable creates an UNDELIVERABLE error.
func Undeliverable(message string, opts ...Option) *Error {
	return New(ErrCodeUndeliverable, message, opts...)
}

// Storage creates a STORAGE error wrapping cause.
func Storage(message string, cause error) *Error {
	return New(ErrCodeStorage, message, WithCause(cause))
}

func (e *Error) with(opts ...Option) *Error {
	for _, opt := range opts {
		opt(e)
	}
	return e
}
