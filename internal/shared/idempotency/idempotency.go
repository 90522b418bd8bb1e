// Package idempotency guarantees a logical capture executes its provider
// side effect at most once. It owns the key derivation policy and a
// claim-based record store with pluggable backends (memory, redis, postgres).
package idempotency

import (
	"context"
	"errors"
	"time"

	sharedclock "github.com/snapcart/capture-api/internal/shared/clock"
	shareduid "github.com/snapcart/capture-api/internal/shared/uid"
)

type DecisionType string

const (
	// DecisionClaimed means the caller now owns the in-flight claim and
	// must finish with Complete or Release.
	DecisionClaimed DecisionType = "claimed"

	// DecisionInFlight means another owner holds a live claim.
	DecisionInFlight DecisionType = "in_flight"

	// DecisionCompleted means a non-expired outcome already exists.
	DecisionCompleted DecisionType = "completed"
)

// Outcome is the immutable result recorded for a completed capture.
type Outcome struct {
	ChargeID    string
	AmountMinor int64
	Currency    string
	CompletedAt time.Time
}

// Decision is the result of TryClaim.
type Decision struct {
	Type DecisionType

	// OwnerToken proves claim ownership. Set only when Type is DecisionClaimed.
	OwnerToken string

	// Outcome is the stored result. Set only when Type is DecisionCompleted.
	Outcome Outcome
}

// ErrOwnershipLost is returned by Complete when the caller's claim expired
// and was reclaimed or removed. The provider-side effect may still have
// happened; callers must treat this as "result produced but not recorded".
var ErrOwnershipLost = errors.New("idempotency: claim ownership lost")

// Store maps idempotency keys to capture outcomes with TTLs.
// Implementations must be safe for concurrent use; TryClaim is the single
// serialization point and must be atomic with respect to concurrent callers.
type Store interface {
	// TryClaim atomically transitions absent -> in-flight for the key,
	// or reports an existing live claim or completed outcome.
	TryClaim(ctx context.Context, key string) (Decision, error)

	// Complete transitions in-flight -> completed, storing the outcome with
	// a fresh expiry. Returns ErrOwnershipLost if ownerToken no longer
	// matches the current claim.
	Complete(ctx context.Context, key, ownerToken string, outcome Outcome) error

	// Release transitions in-flight -> absent so a later call can retry
	// from scratch. Ownership mismatches are ignored.
	Release(ctx context.Context, key, ownerToken string) error

	// Get returns the completed outcome for the key, if one exists and has
	// not expired.
	Get(ctx context.Context, key string) (Outcome, bool, error)
}

const (
	// DefaultClaimTTL bounds how long a crashed executor can block others.
	DefaultClaimTTL = 30 * time.Second

	// DefaultCompletedTTL must stay at or above the provider's own
	// idempotency retention, or a duplicate charge becomes possible once
	// the local record expires.
	DefaultCompletedTTL = 24 * time.Hour
)

// Options configures a record store backend.
type Options struct {
	// ClaimTTL is the in-flight claim lifetime. Defaults to DefaultClaimTTL.
	ClaimTTL time.Duration

	// CompletedTTL is the completed record lifetime.
	// Defaults to DefaultCompletedTTL.
	CompletedTTL time.Duration

	// Clock supplies time for TTL checks. Defaults to the system clock.
	Clock sharedclock.Clock

	// Tokens generates owner tokens. Defaults to UUIDv7.
	Tokens shareduid.UIDGenerator
}

func (o Options) withDefaults() (Options, error) {
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = DefaultClaimTTL
	}
	if o.CompletedTTL <= 0 {
		o.CompletedTTL = DefaultCompletedTTL
	}
	if o.Clock == nil {
		o.Clock = sharedclock.SystemClock{}
	}
	if o.Tokens == nil {
		generator, err := shareduid.NewUUIDv7()
		if err != nil {
			return Options{}, err
		}
		o.Tokens = generator
	}
	return o, nil
}
