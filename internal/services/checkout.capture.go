package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/snapcart/capture-api/internal/domain"
	"github.com/snapcart/capture-api/internal/domain/vo"
	sharedclock "github.com/snapcart/capture-api/internal/shared/clock"
	sharedidempotency "github.com/snapcart/capture-api/internal/shared/idempotency"
	sharedprovider "github.com/snapcart/capture-api/internal/shared/provider"
	sharedstatuscache "github.com/snapcart/capture-api/internal/shared/statuscache"
)

type CaptureOrderRepository interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	EnsureOrderExists(ctx context.Context, orderID string, defaultAmountMinor int64, defaultCurrency string) (domain.Order, error)
	MarkPaid(ctx context.Context, orderID string) (domain.Order, error)
	RecordCharge(ctx context.Context, charge domain.Charge) error
}

// CaptureConfig tunes the retry loop and the seed values for unknown orders.
type CaptureConfig struct {
	// MaxRetries is the number of extra attempts after the first, spent only
	// on timeout-classified failures.
	MaxRetries int

	// BaseBackoff is the delay before the first retry; it doubles per
	// attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// ClaimWait bounds how long a caller waits on another process's
	// in-flight claim before giving up.
	ClaimWait time.Duration

	// ClaimPollInterval is the re-check cadence while waiting on a foreign
	// claim.
	ClaimPollInterval time.Duration

	DefaultAmountMinor int64
	DefaultCurrency    string
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.ClaimWait <= 0 {
		c.ClaimWait = sharedidempotency.DefaultClaimTTL
	}
	if c.ClaimPollInterval <= 0 {
		c.ClaimPollInterval = 100 * time.Millisecond
	}
	if c.DefaultAmountMinor <= 0 {
		c.DefaultAmountMinor = 1299
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "GBP"
	}
	return c
}

// CheckoutCaptureService executes "charge this order" at most once per
// order, no matter how the call is retried, duplicated, or raced.
//
// Layering: the singleflight group coalesces concurrent same-key callers
// inside this process; the idempotency record store is the cross-process
// authority; the provider's own key-based deduplication is the last line of
// defense. The status cache only accelerates the already-paid fast path.
type CheckoutCaptureService struct {
	orders  CaptureOrderRepository
	gateway sharedprovider.Gateway
	records sharedidempotency.Store
	cache   sharedstatuscache.Cache
	clock   sharedclock.Clock
	sleeper sharedclock.Sleeper
	logger  *slog.Logger
	config  CaptureConfig
	group   singleflight.Group
}

func NewCheckoutCaptureService(
	orders CaptureOrderRepository,
	gateway sharedprovider.Gateway,
	records sharedidempotency.Store,
	cache sharedstatuscache.Cache,
	clk sharedclock.Clock,
	sleeper sharedclock.Sleeper,
	logger *slog.Logger,
	config CaptureConfig,
) *CheckoutCaptureService {
	if logger == nil {
		logger = slog.Default()
	}

	return &CheckoutCaptureService{
		orders:  orders,
		gateway: gateway,
		records: records,
		cache:   cache,
		clock:   clk,
		sleeper: sleeper,
		logger:  logger,
		config:  config.withDefaults(),
	}
}

// Capture charges the order at most once and returns the resulting status.
// Calling it for an already-paid order is terminal and re-entrant: no
// provider call, no store mutation.
func (s *CheckoutCaptureService) Capture(ctx context.Context, orderID string) (vo.CaptureResult, error) {
	if err := sharedidempotency.ValidateOrderID(orderID); err != nil {
		return vo.CaptureResult{}, err
	}

	order, err := s.orders.EnsureOrderExists(ctx, orderID, s.config.DefaultAmountMinor, s.config.DefaultCurrency)
	if err != nil {
		return vo.CaptureResult{}, err
	}

	paid, err := s.cache.IsPaid(ctx, orderID)
	if err != nil {
		// The cache is an accelerator, never an authority; degrade to the
		// store read.
		s.logger.Warn("status cache read failed", "order_id", orderID, "error", err)
	}
	if paid {
		return vo.CaptureResult{OrderID: orderID, Status: string(domain.OrderStatusPaid)}, nil
	}

	if order.Status == domain.OrderStatusPaid {
		s.cacheMarkPaid(ctx, orderID)
		return vo.CaptureResult{OrderID: orderID, Status: string(domain.OrderStatusPaid)}, nil
	}

	key, err := sharedidempotency.KeyForOrder(orderID)
	if err != nil {
		return vo.CaptureResult{}, err
	}

	// A caller's disconnect must not abandon an in-flight provider call:
	// aborting could leave a provider-side charge with no local record.
	detachedCtx := context.WithoutCancel(ctx)

	shared, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.executeCapture(detachedCtx, key, order)
	})
	if err != nil {
		return vo.CaptureResult{}, err
	}

	result, ok := shared.(vo.CaptureResult)
	if !ok {
		return vo.CaptureResult{}, errors.New("service: unexpected capture result type")
	}

	return result, nil
}

// executeCapture runs under the single-flight group: at most one concurrent
// execution per key inside this process.
func (s *CheckoutCaptureService) executeCapture(ctx context.Context, key string, order domain.Order) (vo.CaptureResult, error) {
	waitDeadline := s.clock.Now().Add(s.config.ClaimWait)

	for {
		decision, err := s.records.TryClaim(ctx, key)
		if err != nil {
			return vo.CaptureResult{}, fmt.Errorf("service: failed to claim idempotency key: %w", err)
		}

		switch decision.Type {
		case sharedidempotency.DecisionCompleted:
			// A prior capture already charged the provider. Re-drive the
			// local effects; both are idempotent.
			return s.applyOutcome(ctx, key, order, decision.Outcome)

		case sharedidempotency.DecisionInFlight:
			// Another process owns the claim. Suspend and re-check until it
			// resolves or its claim expires.
			if s.clock.Now().After(waitDeadline) {
				return vo.CaptureResult{}, fmt.Errorf("%w: in-flight capture did not resolve in time", vo.ErrCaptureFailed)
			}
			if err := s.sleeper.Sleep(ctx, s.config.ClaimPollInterval); err != nil {
				return vo.CaptureResult{}, err
			}

		case sharedidempotency.DecisionClaimed:
			return s.runAttempts(ctx, key, decision.OwnerToken, order)

		default:
			return vo.CaptureResult{}, fmt.Errorf("service: unexpected claim decision %q", decision.Type)
		}
	}
}

// runAttempts drives the provider call through the retry budget. Every
// attempt reuses the same idempotency key: the key belongs to the logical
// operation, never to an attempt.
func (s *CheckoutCaptureService) runAttempts(ctx context.Context, key, ownerToken string, order domain.Order) (vo.CaptureResult, error) {
	request := sharedprovider.ChargeRequest{
		OrderID:        order.ID,
		AmountMinor:    order.AmountMinor,
		Currency:       order.Currency,
		IdempotencyKey: key,
	}

	var lastErr error
	maxAttempts := 1 + s.config.MaxRetries

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		charge, err := s.gateway.Capture(ctx, request)
		if err == nil {
			return s.recordSuccess(ctx, key, ownerToken, order, charge)
		}

		lastErr = err

		if !errors.Is(err, sharedprovider.ErrTimeout) {
			// Terminal rejection: release the claim so a future call can
			// retry from scratch, and surface immediately.
			s.releaseClaim(ctx, key, ownerToken)
			return vo.CaptureResult{}, fmt.Errorf("%w: %w", vo.ErrCaptureFailed, err)
		}

		s.logger.Warn("provider capture timed out",
			"order_id", order.ID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
		)

		if attempt < maxAttempts {
			if err := s.sleeper.Sleep(ctx, s.backoffFor(attempt)); err != nil {
				s.releaseClaim(ctx, key, ownerToken)
				return vo.CaptureResult{}, err
			}
		}
	}

	s.releaseClaim(ctx, key, ownerToken)
	return vo.CaptureResult{}, fmt.Errorf("%w: retry budget exhausted: %w", vo.ErrCaptureFailed, lastErr)
}

func (s *CheckoutCaptureService) recordSuccess(ctx context.Context, key, ownerToken string, order domain.Order, charge sharedprovider.Charge) (vo.CaptureResult, error) {
	outcome := sharedidempotency.Outcome{
		ChargeID:    charge.ChargeID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		CompletedAt: s.clock.Now(),
	}

	if err := s.records.Complete(ctx, key, ownerToken, outcome); err != nil {
		if !errors.Is(err, sharedidempotency.ErrOwnershipLost) {
			return vo.CaptureResult{}, fmt.Errorf("service: failed to record outcome: %w", err)
		}
		// The charge exists but the claim expired under us. Not a crash:
		// the provider deduplicates on the key, so a retried call cannot
		// double-charge. Log and carry on with the local effects.
		s.logger.Warn("idempotency claim ownership lost after provider success",
			"order_id", order.ID,
			"charge_id", charge.ChargeID,
		)
	}

	return s.applyOutcome(ctx, key, order, outcome)
}

// applyOutcome makes the local store agree with a provider-side charge:
// record the charge reference and mark the order paid. Both operations are
// idempotent so this path can re-run from a completed record after a crash
// between Complete and MarkPaid.
func (s *CheckoutCaptureService) applyOutcome(ctx context.Context, key string, order domain.Order, outcome sharedidempotency.Outcome) (vo.CaptureResult, error) {
	chargeRef := domain.Charge{
		ID:             outcome.ChargeID,
		OrderID:        order.ID,
		IdempotencyKey: key,
		AmountMinor:    outcome.AmountMinor,
		Currency:       outcome.Currency,
		CreatedAt:      outcome.CompletedAt,
	}
	if err := s.orders.RecordCharge(ctx, chargeRef); err != nil {
		return vo.CaptureResult{}, fmt.Errorf("service: failed to record charge: %w", err)
	}

	if _, err := s.orders.MarkPaid(ctx, order.ID); err != nil {
		return vo.CaptureResult{}, fmt.Errorf("service: failed to mark order paid: %w", err)
	}

	s.cacheMarkPaid(ctx, order.ID)

	return vo.CaptureResult{
		OrderID:  order.ID,
		Status:   string(domain.OrderStatusPaid),
		ChargeID: outcome.ChargeID,
	}, nil
}

func (s *CheckoutCaptureService) releaseClaim(ctx context.Context, key, ownerToken string) {
	if err := s.records.Release(ctx, key, ownerToken); err != nil {
		s.logger.Warn("failed to release idempotency claim", "error", err)
	}
}

func (s *CheckoutCaptureService) cacheMarkPaid(ctx context.Context, orderID string) {
	if err := s.cache.MarkPaid(ctx, orderID); err != nil {
		s.logger.Warn("status cache write failed", "order_id", orderID, "error", err)
	}
}

func (s *CheckoutCaptureService) backoffFor(attempt int) time.Duration {
	backoff := s.config.BaseBackoff << (attempt - 1)
	if backoff > s.config.MaxBackoff {
		backoff = s.config.MaxBackoff
	}
	return backoff
}
