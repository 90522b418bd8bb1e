// Package provider models the external payment gateway. The gateway's
// failure semantics are ambiguous: a timeout does not imply the charge was
// not created, so callers must pair every request with a stable idempotency
// key and the gateway deduplicates on that key as a second line of defense.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Strategy defines which gateway implementation to use.
type Strategy string

const (
	// StrategyHTTP calls a remote gateway over HTTP.
	StrategyHTTP Strategy = "http"

	// StrategySandbox runs an in-process simulator with key-based
	// deduplication and a scriptable timeout failure mode.
	StrategySandbox Strategy = "sandbox"
)

// ErrTimeout classifies transient, network-shaped failures. The charge may
// still have been created on the provider side; retry with the same
// idempotency key.
var ErrTimeout = errors.New("provider: timeout")

// ErrRejected classifies terminal validation or business-rule denials.
// Never retried.
var ErrRejected = errors.New("provider: rejected")

// ChargeRequest asks the gateway to create a charge.
type ChargeRequest struct {
	OrderID        string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
}

// Charge is the provider-side result.
type Charge struct {
	ChargeID string
}

// Gateway creates charges at the payment provider.
// Implementations must deduplicate on the idempotency key: two calls bearing
// the same key return the same charge identifier rather than creating two
// charges. Implementations must be safe for concurrent use.
type Gateway interface {
	// Capture creates (or returns the deduplicated) charge for the request.
	// Failures are classified as ErrTimeout or ErrRejected.
	Capture(ctx context.Context, request ChargeRequest) (Charge, error)
}

// Options configures the gateway.
type Options struct {
	// Strategy selects the implementation.
	Strategy Strategy

	// ── HTTP options ──

	// BaseURL is the gateway endpoint root. Required for StrategyHTTP.
	BaseURL string

	// Timeout bounds a single capture request. Defaults to 10s.
	Timeout time.Duration

	// ── Sandbox options ──

	// TimeoutOrderPrefix makes the sandbox fail the first call for matching
	// orders with ErrTimeout after internally recording the charge.
	TimeoutOrderPrefix string
}

// New creates a Gateway based on the provided options.
func New(opts Options) (Gateway, error) {
	switch opts.Strategy {
	case StrategyHTTP:
		return NewHTTPGateway(opts)
	case StrategySandbox:
		return NewSandboxGateway(opts)
	default:
		return nil, fmt.Errorf("provider: unknown strategy %q", opts.Strategy)
	}
}
