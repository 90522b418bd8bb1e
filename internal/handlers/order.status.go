package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/snapcart/capture-api/internal/domain/vo"
	sharedidempotency "github.com/snapcart/capture-api/internal/shared/idempotency"
)

type OrderStatusService interface {
	GetOrder(ctx context.Context, orderID string) (vo.OrderStatusView, error)
	ListCharges(ctx context.Context, orderID string) ([]vo.ChargeView, error)
}

type OrderStatusHandler struct {
	service OrderStatusService
	logger  *slog.Logger
}

func NewOrderStatusHandler(service OrderStatusService, logger *slog.Logger) *OrderStatusHandler {
	return &OrderStatusHandler{service: service, logger: logger}
}

func (h *OrderStatusHandler) Register(router fiber.Router) {
	router.Get("/orders/:order_id", h.HandleGet)
	router.Get("/orders/:order_id/charges", h.HandleListCharges)
}

func (h *OrderStatusHandler) HandleGet(c fiber.Ctx) error {
	orderID := c.Params("order_id")

	view, err := h.service.GetOrder(c.Context(), orderID)
	if err != nil {
		return h.mapError(c, orderID, err)
	}

	return c.Status(fiber.StatusOK).JSON(view)
}

func (h *OrderStatusHandler) HandleListCharges(c fiber.Ctx) error {
	orderID := c.Params("order_id")

	charges, err := h.service.ListCharges(c.Context(), orderID)
	if err != nil {
		return h.mapError(c, orderID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"charges": charges})
}

func (h *OrderStatusHandler) mapError(c fiber.Ctx, orderID string, err error) error {
	switch {
	case errors.Is(err, sharedidempotency.ErrInvalidOrderID):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "order_id is invalid"})
	case errors.Is(err, vo.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	default:
		h.logger.Error("failed to read order", "order_id", orderID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}
