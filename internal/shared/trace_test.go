package shared

import (
	"context"
	"testing"
)

func TestTraceID_DefaultsToDash(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "-" {
		t.Fatalf("expected -, got %q", got)
	}
	ctx = WithTraceID(ctx, "abc123")
	if got := TraceID(ctx); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}

func TestConnID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := ConnID(ctx); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	ctx = WithConnID(ctx, "conn-1")
	if got := ConnID(ctx); got != "conn-1" {
		t.Fatalf("expected conn-1, got %q", got)
	}
}

func TestNewTraceID_IsNonEmptyAndUnique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty trace ids")
	}
	if a == b {
		t.Fatal("expected unique trace ids")
	}
}
