package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"direct", New(Conflict, "already voted"), Conflict},
		{"wrapped", fmt.Errorf("vote: %w", New(Expired, "poll expired")), Expired},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"wrapped deadline", fmt.Errorf("store: %w", context.DeadlineExceeded), Timeout},
		{"unknown", errors.New("boom"), Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageOfHidesInternal(t *testing.T) {
	if got := MessageOf(errors.New("sql: connection reset")); got != "internal server error" {
		t.Errorf("MessageOf(raw) = %q", got)
	}
	if got := MessageOf(Wrap(Internal, "corrupt row", errors.New("x"))); got != "internal server error" {
		t.Errorf("MessageOf(internal) = %q", got)
	}
	if got := MessageOf(New(Forbidden, "not a member")); got != "not a member" {
		t.Errorf("MessageOf(forbidden) = %q", got)
	}
}

func TestErrorsIsByKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", New(NotFound, "group not found"))
	if !errors.Is(err, New(NotFound, "")) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, New(Forbidden, "")) {
		t.Error("errors.Is should not match a different kind")
	}
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if err := FromContext(ctx, "load"); err != nil {
		t.Fatalf("live context: %v", err)
	}
	cancel()
	if err := FromContext(ctx, "load"); KindOf(err) != Timeout {
		t.Errorf("cancelled context kind = %q, want TIMEOUT", KindOf(err))
	}
}
