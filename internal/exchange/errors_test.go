package exchange

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want func(error) bool
	}{
		{"transient", &Error{Kind: KindTransient, Venue: "bybit", Op: "x", Err: base}, IsTransient},
		{"permanent", &Error{Kind: KindPermanent, Venue: "gate", Op: "x", Err: base}, IsPermanent},
		{"market_state", &Error{Kind: KindMarketState, Venue: "mexc", Op: "x", Err: base}, IsMarketState},
		{"not_found", &Error{Kind: KindNotFound, Venue: "bingx", Op: "x", Err: base}, IsNotFound},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !tt.want(tt.err) {
				t.Errorf("classifier rejected %v", tt.err)
			}
			// Wrapping must not hide the kind.
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.want(wrapped) {
				t.Errorf("classifier rejected wrapped %v", wrapped)
			}
		})
	}
}

func TestWrapErrPreservesExistingKind(t *testing.T) {
	t.Parallel()

	inner := &Error{Kind: KindNotFound, Venue: "bybit", Op: "fetch_order", Err: errors.New("gone")}
	out := wrapErr(KindTransient, "bybit", "retry", inner)

	if !IsNotFound(out) {
		t.Errorf("rewrapping changed kind: %v", out)
	}
	if IsTransient(out) {
		t.Errorf("rewrapping added transient kind: %v", out)
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := wrapErr(KindPermanent, "gate", "create_order", sentinel)
	if !errors.Is(err, sentinel) {
		t.Error("Unwrap chain lost the cause")
	}
}
