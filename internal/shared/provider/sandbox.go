package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	shareduid "github.com/snapcart/capture-api/internal/shared/uid"
)

var _ Gateway = (*SandboxGateway)(nil)

// SandboxCharge is a charge recorded by the sandbox.
type SandboxCharge struct {
	ChargeID       string
	OrderID        string
	IdempotencyKey string
	AmountMinor    int64
	Currency       string
}

// SandboxGateway simulates the real gateway's most important failure mode:
// a request can time out after the charge was already created. Repeated
// calls bearing the same idempotency key return the same charge identifier.
type SandboxGateway struct {
	mu                 sync.Mutex
	chargesByKey       map[string]string
	charges            []SandboxCharge
	callCountByOrder   map[string]int
	timeoutOrderPrefix string
	chargeIDs          shareduid.UIDGenerator
}

// NewSandboxGateway creates an in-process simulated gateway.
func NewSandboxGateway(opts Options) (*SandboxGateway, error) {
	chargeIDs, err := shareduid.NewUUIDv7()
	if err != nil {
		return nil, fmt.Errorf("provider: failed to init sandbox charge ids: %w", err)
	}

	return &SandboxGateway{
		chargesByKey:       make(map[string]string),
		callCountByOrder:   make(map[string]int),
		timeoutOrderPrefix: opts.TimeoutOrderPrefix,
		chargeIDs:          chargeIDs,
	}, nil
}

func (g *SandboxGateway) Capture(ctx context.Context, request ChargeRequest) (Charge, error) {
	generated, err := g.chargeIDs.Generate(ctx)
	if err != nil {
		return Charge{}, fmt.Errorf("provider: failed to generate charge id: %w", err)
	}
	chargeID := "ch_" + strings.ReplaceAll(generated, "-", "")[:12]

	g.mu.Lock()
	defer g.mu.Unlock()

	g.callCountByOrder[request.OrderID]++
	callCount := g.callCountByOrder[request.OrderID]

	// Key-based deduplication: same key, same charge, no new side effect.
	if existing, ok := g.chargesByKey[request.IdempotencyKey]; ok && request.IdempotencyKey != "" {
		return Charge{ChargeID: existing}, nil
	}

	if request.IdempotencyKey != "" {
		g.chargesByKey[request.IdempotencyKey] = chargeID
	}
	g.charges = append(g.charges, SandboxCharge{
		ChargeID:       chargeID,
		OrderID:        request.OrderID,
		IdempotencyKey: request.IdempotencyKey,
		AmountMinor:    request.AmountMinor,
		Currency:       request.Currency,
	})

	// The charge above already exists when this timeout fires. That is the
	// whole point of the simulation.
	if callCount == 1 && g.timeoutOrderPrefix != "" && strings.HasPrefix(request.OrderID, g.timeoutOrderPrefix) {
		return Charge{}, fmt.Errorf("%w: simulated network timeout (charge may have been created)", ErrTimeout)
	}

	return Charge{ChargeID: chargeID}, nil
}

// Charges returns the charges recorded for an order.
func (g *SandboxGateway) Charges(orderID string) []SandboxCharge {
	g.mu.Lock()
	defer g.mu.Unlock()

	var matched []SandboxCharge
	for _, charge := range g.charges {
		if charge.OrderID == orderID {
			matched = append(matched, charge)
		}
	}
	return matched
}

// CallCount returns how many capture calls were made for an order.
func (g *SandboxGateway) CallCount(orderID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.callCountByOrder[orderID]
}

// Reset clears all sandbox state.
func (g *SandboxGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.chargesByKey = make(map[string]string)
	g.charges = nil
	g.callCountByOrder = make(map[string]int)
}
