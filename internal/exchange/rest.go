// rest.go holds the HTTP machinery shared by every venue adapter: the
// configured resty client, the instrument cache, and the mapping from
// HTTP outcomes to the typed error model.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"crossarb/pkg/types"
)

const (
	restTimeout = 10 * time.Second
	restRetries = 3
	restWait    = 500 * time.Millisecond
	restMaxWait = 5 * time.Second
	// recvWindow is deliberately wide; clock.go keeps the real skew small.
	recvWindowMs = 60_000
)

// restCore bundles the per-venue state every adapter embeds: the HTTP
// client, rate limiter buckets, credentials, clock, and market cache.
type restCore struct {
	venue  string
	http   *resty.Client
	rl     *RateLimiter
	creds  Credentials
	clock  *Clock
	logger *slog.Logger

	marketsMu sync.RWMutex
	markets   map[string]types.Market // keyed by normalized base ticker
}

func newRestCore(venue, baseURL string, creds Credentials, clock *Clock, logger *slog.Logger) *restCore {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(restTimeout).
		SetRetryCount(restRetries).
		SetRetryWaitTime(restWait).
		SetRetryMaxWaitTime(restMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json")

	return &restCore{
		venue:   venue,
		http:    httpClient,
		rl:      NewRateLimiter(),
		creds:   creds,
		clock:   clock,
		logger:  logger.With("component", venue),
		markets: make(map[string]types.Market),
	}
}

// now returns the venue-aligned current time in unix milliseconds.
func (rc *restCore) now() int64 {
	if rc.clock != nil {
		return rc.clock.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

func (rc *restCore) setMarkets(markets map[string]types.Market) {
	rc.marketsMu.Lock()
	rc.markets = markets
	rc.marketsMu.Unlock()
}

func (rc *restCore) market(symbol string) (types.Market, error) {
	rc.marketsMu.RLock()
	m, ok := rc.markets[NormalizeBase(symbol)]
	rc.marketsMu.RUnlock()
	if !ok {
		return types.Market{}, &Error{
			Kind: KindNotFound, Venue: rc.venue, Op: "market",
			Err: fmt.Errorf("no USDT perpetual for %q", symbol),
		}
	}
	return m, nil
}

func (rc *restCore) marketCount() int {
	rc.marketsMu.RLock()
	defer rc.marketsMu.RUnlock()
	return len(rc.markets)
}

// classify maps a transport error or non-2xx response to the typed model.
// Venue-specific business codes are handled by each adapter before this.
func (rc *restCore) classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		if ctxErr := contextCause(err); ctxErr != nil {
			return ctxErr
		}
		return wrapErr(KindTransient, rc.venue, op, err)
	}
	if resp == nil || resp.IsSuccess() {
		return nil
	}
	code := resp.StatusCode()
	kind := KindTransient
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = KindPermanent
	case code == http.StatusNotFound:
		kind = KindNotFound
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		kind = KindPermanent
	}
	return wrapErr(kind, rc.venue, op, fmt.Errorf("status %d: %s", code, resp.String()))
}

// parseF parses a venue decimal string, returning 0 on empty or malformed
// input. Venue payloads routinely send "" for absent numeric fields.
func parseF(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// formatF renders a float the way venue APIs expect: plain decimal
// notation without exponent or trailing zeros.
func formatF(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// contextCause surfaces context cancellation untouched so callers see
// ctx.Err() rather than a wrapped transient error.
func contextCause(err error) error {
	for _, target := range []error{context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}
