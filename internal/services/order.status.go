package services

import (
	"context"
	"log/slog"

	"github.com/snapcart/capture-api/internal/domain"
	"github.com/snapcart/capture-api/internal/domain/vo"
	sharedidempotency "github.com/snapcart/capture-api/internal/shared/idempotency"
	sharedstatuscache "github.com/snapcart/capture-api/internal/shared/statuscache"
)

type OrderStatusRepository interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListCharges(ctx context.Context, orderID string) ([]domain.Charge, error)
}

// OrderStatusService serves read-only order views. Reads populate the paid
// fast path of the status cache; nothing non-terminal is ever cached.
type OrderStatusService struct {
	orders OrderStatusRepository
	cache  sharedstatuscache.Cache
	logger *slog.Logger
}

func NewOrderStatusService(orders OrderStatusRepository, cache sharedstatuscache.Cache, logger *slog.Logger) *OrderStatusService {
	if logger == nil {
		logger = slog.Default()
	}

	return &OrderStatusService{orders: orders, cache: cache, logger: logger}
}

func (s *OrderStatusService) GetOrder(ctx context.Context, orderID string) (vo.OrderStatusView, error) {
	if err := sharedidempotency.ValidateOrderID(orderID); err != nil {
		return vo.OrderStatusView{}, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return vo.OrderStatusView{}, err
	}

	if order.Status == domain.OrderStatusPaid {
		if err := s.cache.MarkPaid(ctx, orderID); err != nil {
			s.logger.Warn("status cache write failed", "order_id", orderID, "error", err)
		}
	}

	return vo.OrderStatusView{
		OrderID:     order.ID,
		Status:      string(order.Status),
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		UpdatedAt:   order.UpdatedAt,
	}, nil
}

func (s *OrderStatusService) ListCharges(ctx context.Context, orderID string) ([]vo.ChargeView, error) {
	if err := sharedidempotency.ValidateOrderID(orderID); err != nil {
		return nil, err
	}

	if _, err := s.orders.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	charges, err := s.orders.ListCharges(ctx, orderID)
	if err != nil {
		return nil, err
	}

	views := make([]vo.ChargeView, 0, len(charges))
	for _, charge := range charges {
		views = append(views, vo.ChargeView{
			ChargeID:    charge.ID,
			OrderID:     charge.OrderID,
			AmountMinor: charge.AmountMinor,
			Currency:    charge.Currency,
			CreatedAt:   charge.CreatedAt,
		})
	}

	return views, nil
}
