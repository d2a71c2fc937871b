package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

// TestErrorFormatting verifies the message layout with and without a cause.
func TestErrorFormatting(t *testing.T) {
	plain := New(CategoryManifest, SeverityFatal, "bad entry")
	if got := plain.Error(); got != "manifest (fatal): bad entry" {
		t.Fatalf("unexpected message: %q", got)
	}

	cause := stderrors.New("unexpected EOF")
	wrapped := Wrap(cause, CategoryNetwork, SeverityError, "connection failed")
	if got := wrapped.Error(); got != "network (error): connection failed: unexpected EOF" {
		t.Fatalf("unexpected message: %q", got)
	}
	if !stderrors.Is(wrapped, cause) {
		t.Fatal("wrapped error should match its cause via errors.Is")
	}
}

// TestRetryability covers the retryable classification rules of the constructors.
func TestRetryability(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", NetworkTimeout("http://x", nil), true},
		{"connection", ConnectionFailed("http://x", nil), true},
		{"http 500", HTTPStatus("http://x", 500), true},
		{"http 503", HTTPStatus("http://x", 503), true},
		{"http 404", HTTPStatus("http://x", 404), false},
		{"http 403", HTTPStatus("http://x", 403), false},
		{"hash mismatch", HashMismatch("modA", "aa", "bb"), false},
		{"path traversal", PathTraversalDetected("../../etc"), false},
		{"state unwritable", StateUnwritable("state.json", nil), true},
		{"plain error", stderrors.New("plain"), false},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Errorf("%s: IsRetryable = %v, want %v", c.name, got, c.want)
		}
	}
}

// TestCategoryOf checks classification through wrapping layers.
func TestCategoryOf(t *testing.T) {
	inner := HashMismatch("modA", "aa", "bb")
	outer := fmt.Errorf("apply modA: %w", inner)

	if got := CategoryOf(outer); got != CategoryIntegrity {
		t.Fatalf("CategoryOf = %s, want integrity", got)
	}
	if !IsCategory(outer, CategoryIntegrity) {
		t.Fatal("IsCategory should see through fmt.Errorf wrapping")
	}
	if got := CategoryOf(stderrors.New("plain")); got != CategoryRuntime {
		t.Fatalf("plain errors should classify as runtime, got %s", got)
	}
}

// TestContextAccumulation ensures WithContext initializes and appends fields.
func TestContextAccumulation(t *testing.T) {
	err := GameNotFound(365360)
	if err.Context["app_id"] != 365360 {
		t.Fatalf("expected app_id context, got %v", err.Context)
	}
	err.WithContext("library", "/steam")
	if err.Context["library"] != "/steam" {
		t.Fatalf("expected library context, got %v", err.Context)
	}
}
