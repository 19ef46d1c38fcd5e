package errors

import (
	"context"
	"errors"
	"testing"
)

func TestClassify_Sentinels(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{ErrRateLimited, RateLimited},
		{ErrGuardRejected, GuardRejected},
		{ErrContextTooLong, ContextTooLong},
		{ErrCircuitOpen, CircuitBreakerOpen},
		{ErrInvalidResponse, InvalidResponse},
		{ErrQuotaExceeded, QuotaExceeded},
		{ErrUnauthorized, Unauthorized},
		{context.Canceled, Cancelled},
		{context.DeadlineExceeded, Timeout},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClassify_CodedErrorWins(t *testing.T) {
	wrapped := New(QuotaExceeded, "quota", ErrRateLimited)
	if got := Classify(wrapped); got != QuotaExceeded {
		t.Errorf("Classify(coded) = %v, want QUOTA_EXCEEDED", got)
	}
}

func TestClassify_CancellationNeverReclassified(t *testing.T) {
	wrapped := errors.Join(context.Canceled, ErrQuotaExceeded)
	if got := Classify(wrapped); got != Cancelled {
		t.Errorf("Classify(joined with Canceled) = %v, want CANCELLED", got)
	}
}

func TestClassifyMessage_Keywords(t *testing.T) {
	tests := []struct {
		msg  string
		want Code
	}{
		{"request Timeout after 30s", Timeout},
		{"connection reset by peer", ToolError},
		{"permission denied for this action", Unauthorized},
		{"something odd happened", Unknown},
	}

	for _, tt := range tests {
		if got := ClassifyMessage(tt.msg); got != tt.want {
			t.Errorf("ClassifyMessage(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestToolExceptionLabel(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"operation timeout", "TimeoutException"},
		{"connection refused", "ConnectionException"},
		{"permission denied", "PermissionDenied"},
		{"divide by zero", "RuntimeException"},
	}

	for _, tt := range tests {
		if got := ToolExceptionLabel(tt.msg); got != tt.want {
			t.Errorf("ToolExceptionLabel(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	got := Truncate(string(long), 500)
	if len(got) != 500 {
		t.Errorf("Truncate() len = %d, want 500", len(got))
	}

	short := "ok"
	if got := Truncate(short, 500); got != short {
		t.Errorf("Truncate(short) = %q, want unchanged", got)
	}
}
