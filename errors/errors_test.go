package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{"not_found", ErrCodeNotFound, CategoryPermanent, false},
		{"terminal", ErrCodeAlreadyTerminal, CategoryPermanent, false},
		{"rate_limit", ErrCodeRateLimit, CategoryResource, true},
		{"unavailable", ErrCodeUnavailable, CategoryTransient, true},
		{"storage", ErrCodeStorage, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	if err := TaskNotFound(9); err.Code() != ErrCodeNotFound || err.TaskID() != 9 {
		t.Errorf("TaskNotFound = %v (task %d)", err.Code(), err.TaskID())
	}
	if err := AlreadyTerminal(4, "completed"); err.Error() != "task #4 is already completed" {
		t.Errorf("AlreadyTerminal message = %q", err.Error())
	}
	if err := NotAuthor(2); err.Code() != ErrCodeNotAuthor || err.TaskID() != 2 {
		t.Errorf("NotAuthor = %v", err)
	}
	if err := FromCode(ErrCodeNoPendingProposal); err.Error() != ErrCodeNoPendingProposal.Description() {
		t.Errorf("FromCode message = %q", err.Error())
	}
}

func TestRetryAfter(t *testing.T) {
	err := RateLimited("slow down", WithRetryAfter(7*time.Second))
	if got := RetryAfter(err); got != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", got)
	}

	wrapped := fmt.Errorf("send: %w", err)
	if got := RetryAfter(wrapped); got != 7*time.Second {
		t.Errorf("RetryAfter through fmt wrap = %v", got)
	}
	if RetryAfter(errors.New("plain")) != 0 {
		t.Error("plain errors carry no backoff")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	base := RateLimited("429", WithRetryAfter(time.Second), WithTaskID(3))
	w := Wrap(base, "deliver to claimant")
	if w.Code() != ErrCodeRateLimit {
		t.Errorf("wrapped code = %v", w.Code())
	}
	if w.RetryAfter() != time.Second || w.TaskID() != 3 {
		t.Errorf("wrapped lost context: %v %d", w.RetryAfter(), w.TaskID())
	}
	if !errors.Is(w, base) {
		t.Error("errors.Is should find the cause")
	}

	if c := Code(Wrap(context.DeadlineExceeded, "send")); c != ErrCodeTimeout {
		t.Errorf("deadline exceeded mapped to %v", c)
	}
	if c := Code(Wrap(context.Canceled, "send")); c != ErrCodeCanceled {
		t.Errorf("canceled mapped to %v", c)
	}
	if c := Code(Wrap(errors.New("boom"), "send")); c != ErrCodeInternal {
		t.Errorf("plain mapped to %v", c)
	}
}

func TestIsAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotAuthor(1))
	if !Is(err, ErrCodeNotAuthor) {
		t.Error("Is should see through fmt wrapping")
	}
	if Is(err, ErrCodeNotFound) {
		t.Error("Is matched the wrong code")
	}
	if Code(nil) != "" {
		t.Error("Code(nil) should be empty")
	}
	if IsRetryable(errors.New("x")) {
		t.Error("plain errors are not retryable")
	}
	if !IsRetryable(New(ErrCodeUnavailable, "down")) {
		t.Error("unavailable should be retryable")
	}
	if IsRetryable(New(ErrCodeUnavailable, "down", WithRetryable(false))) {
		t.Error("WithRetryable(false) should win")
	}
}

func TestHint(t *testing.T) {
	err := New(ErrCodeUnparsableSched, "nothing parsed", WithHint("DD.MM HH:mm, one per line"))
	if Hint(err) != "DD.MM HH:mm, one per line" {
		t.Errorf("Hint = %q", Hint(err))
	}
	if Hint(errors.New("x")) != "" {
		t.Error("plain errors have no hint")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := RateLimited("too many requests",
		WithRetryAfter(5*time.Second),
		WithTaskID(12),
		WithMetadata("address", "-100"),
		WithCause(errors.New("429")))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Code() != ErrCodeRateLimit || got.Category() != CategoryResource {
		t.Errorf("got %v/%v", got.Code(), got.Category())
	}
	if got.RetryAfter() != 5*time.Second {
		t.Errorf("RetryAfter = %v", got.RetryAfter())
	}
	if got.TaskID() != 12 || got.Metadata()["address"] != "-100" {
		t.Errorf("lost context: task %d meta %v", got.TaskID(), got.Metadata())
	}
	if !got.Retryable() {
		t.Error("expected retryable after round trip")
	}
	if got.Error() != "too many requests: 429" {
		t.Errorf("Error() = %q", got.Error())
	}
}

func TestUnmarshalCodeOnly(t *testing.T) {
	var e Error
	if err := json.Unmarshal([]byte(`{"code":"RATE_LIMITED","retry_after_ms":3000}`), &e); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if e.Category() != CategoryResource {
		t.Errorf("Category = %v, want resource", e.Category())
	}
	if !e.Retryable() {
		t.Error("code-only rate limit should use category default")
	}
	if e.RetryAfter() != 3*time.Second {
		t.Errorf("RetryAfter = %v", e.RetryAfter())
	}
	if e.Error() != ErrCodeRateLimit.Description() {
		t.Errorf("message = %q", e.Error())
	}
}
