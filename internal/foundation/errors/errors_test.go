package errors

import (
	"errors"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryStorage, "upsert failed").
			Retryable().
			WithContext("state", "California").
			Build()

		if err.Category() != CategoryStorage {
			t.Errorf("expected category %s, got %s", CategoryStorage, err.Category())
		}
		if err.Message() != "upsert failed" {
			t.Errorf("expected message 'upsert failed', got %s", err.Message())
		}
		if !err.CanRetry() {
			t.Error("expected storage error to be retryable")
		}

		state, exists := err.Context().GetString("state")
		if !exists || state != "California" {
			t.Errorf("expected context state=California, got %v", state)
		}
	})

	t.Run("Wrapping preserves cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := WrapError(cause, CategoryTransport, "query failed").Retryable().Build()

		if !errors.Is(err, cause) {
			t.Error("expected error to wrap cause")
		}
		if !HasCategory(err, CategoryTransport) {
			t.Error("expected transport category")
		}
	})

	t.Run("Taxonomy retry strategies", func(t *testing.T) {
		tests := []struct {
			name    string
			builder *ErrorBuilder
			retry   RetryStrategy
		}{
			{"TransportError", TransportError("t"), RetryBackoff},
			{"SchemaError", SchemaError("t"), RetryNever},
			{"ValidationError", ValidationError("t"), RetryUserAction},
			{"StorageError", StorageError("t"), RetryBackoff},
			{"NotFoundError", NotFoundError("t"), RetryNever},
			{"JobError", JobError("t"), RetryNever},
		}
		for _, tt := range tests {
			if got := tt.builder.Build().RetryStrategy(); got != tt.retry {
				t.Errorf("%s: expected retry %s, got %s", tt.name, tt.retry, got)
			}
		}
	})

	t.Run("Unclassified errors never retry", func(t *testing.T) {
		if IsRetryable(errors.New("plain")) {
			t.Error("plain errors must not be retryable")
		}
		if GetCategory(errors.New("plain")) != CategoryInternal {
			t.Error("plain errors classify as internal")
		}
	})
}
