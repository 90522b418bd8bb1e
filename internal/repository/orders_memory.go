package repository

import (
	"context"
	"sync"
	"time"

	"github.com/snapcart/capture-api/internal/domain"
	"github.com/snapcart/capture-api/internal/domain/vo"
)

// MemoryOrderRepository backs the sandbox profile and tests. Same contract
// as the postgres repository, including the idempotent MarkPaid and
// RecordCharge behavior.
type MemoryOrderRepository struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	charges map[string][]domain.Charge
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:  make(map[string]domain.Order),
		charges: make(map[string][]domain.Charge),
	}
}

func (r *MemoryOrderRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, vo.ErrOrderNotFound
	}

	return order, nil
}

func (r *MemoryOrderRepository) EnsureOrderExists(ctx context.Context, orderID string, defaultAmountMinor int64, defaultCurrency string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.orders[orderID]; ok {
		return existing, nil
	}

	order := domain.Order{
		ID:          orderID,
		AmountMinor: defaultAmountMinor,
		Currency:    defaultCurrency,
		Status:      domain.OrderStatusUnpaid,
		UpdatedAt:   time.Now().UTC(),
	}
	r.orders[orderID] = order

	return order, nil
}

func (r *MemoryOrderRepository) MarkPaid(ctx context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, vo.ErrOrderNotFound
	}

	if order.Status != domain.OrderStatusPaid {
		order.Status = domain.OrderStatusPaid
		order.UpdatedAt = time.Now().UTC()
		r.orders[orderID] = order
	}

	return order, nil
}

func (r *MemoryOrderRepository) RecordCharge(ctx context.Context, charge domain.Charge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.charges[charge.OrderID] {
		if existing.ID == charge.ID {
			return nil
		}
	}

	if charge.CreatedAt.IsZero() {
		charge.CreatedAt = time.Now().UTC()
	}
	r.charges[charge.OrderID] = append(r.charges[charge.OrderID], charge)

	return nil
}

func (r *MemoryOrderRepository) ListCharges(ctx context.Context, orderID string) ([]domain.Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	charges := make([]domain.Charge, len(r.charges[orderID]))
	copy(charges, r.charges[orderID])

	return charges, nil
}
