package tenancy

import (
	"context"
	"testing"
)

func TestWithPracticeIDAndPracticeIDFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithPracticeID(ctx, "practice-123")

	got, ok := PracticeIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected practice id to be present")
	}
	if got != "practice-123" {
		t.Fatalf("expected practice-123, got %s", got)
	}
}

func TestPracticeIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := PracticeIDFromContext(ctx); ok {
		t.Fatalf("expected missing practice id to return false")
	}

	ctx = context.WithValue(ctx, practiceKey, 42)
	if _, ok := PracticeIDFromContext(ctx); ok {
		t.Fatalf("expected non-string practice id to return false")
	}

	ctx = WithPracticeID(context.Background(), "")
	if _, ok := PracticeIDFromContext(ctx); ok {
		t.Fatalf("expected empty practice id to return false")
	}
}
