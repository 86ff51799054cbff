package exchange

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindExtraction(t *testing.T) {
	t.Parallel()

	base := newError(KindRejected, "place", "insufficient balance")
	wrapped := fmt.Errorf("tick failed: %w", base)

	k, ok := Kind(wrapped)
	if !ok || k != KindRejected {
		t.Errorf("Kind(wrapped) = %v, %v; want Rejected, true", k, ok)
	}

	if _, ok := Kind(errors.New("plain")); ok {
		t.Error("plain errors must not report a kind")
	}
}

func TestIsHelpers(t *testing.T) {
	t.Parallel()

	if !IsRejected(newError(KindRejected, "place", "no")) {
		t.Error("IsRejected should match KindRejected")
	}
	if IsRejected(newError(KindTransient, "place", "timeout")) {
		t.Error("IsRejected must not match KindTransient")
	}
	if !IsTransient(newError(KindTransient, "place", "timeout")) {
		t.Error("IsTransient should match KindTransient")
	}
}

func TestWrapErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	e := wrapError(KindTransient, "cancel", cause)
	if !errors.Is(e, cause) {
		t.Error("wrapError must preserve the cause for errors.Is")
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want ErrorKind
	}{
		{400, KindRejected},
		{401, KindAuthFailure},
		{403, KindAuthFailure},
		{422, KindRejected},
		{429, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{418, KindUnavailable},
	}

	for _, tt := range tests {
		if got := classifyStatus("op", tt.code, "body"); got.Kind != tt.want {
			t.Errorf("classifyStatus(%d).Kind = %v, want %v", tt.code, got.Kind, tt.want)
		}
	}
}
