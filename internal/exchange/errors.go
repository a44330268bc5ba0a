// errors.go defines the typed error model shared by all venue adapters.
//
// Every error leaving an adapter is wrapped in *Error carrying a Kind so
// callers can branch with errors.As / the Is* helpers instead of matching
// venue-specific codes or strings. Kinds:
//
//   - Transient:   timeouts, 5xx, rate limits, disconnects — safe to retry
//   - Permanent:   auth failures, insufficient balance, bad params — do not retry
//   - MarketState: symbol delisted, trading suspended, qty below minimum
//   - NotFound:    order or position does not exist (often already filled)
package exchange

import (
	"errors"
	"fmt"
)

// Kind classifies an adapter error for retry and routing decisions.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindMarketState
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindMarketState:
		return "market_state"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is the uniform error wrapper returned by venue adapters.
type Error struct {
	Kind  Kind
	Venue string
	Op    string // adapter operation, e.g. "create_order"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Venue, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// wrapErr builds an *Error unless err is already one, in which case the
// original classification is preserved.
func wrapErr(kind Kind, venue, op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Kind: kind, Venue: venue, Op: op, Err: err}
}

// IsTransient reports whether err is a retryable adapter error.
func IsTransient(err error) bool { return hasKind(err, KindTransient) }

// IsPermanent reports whether err is a non-retryable adapter error.
func IsPermanent(err error) bool { return hasKind(err, KindPermanent) }

// IsMarketState reports whether err reflects an untradeable market.
func IsMarketState(err error) bool { return hasKind(err, KindMarketState) }

// IsNotFound reports whether err means the order/position does not exist.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

func hasKind(err error, k Kind) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == k
}
