package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/snapcart/capture-api/internal/domain/vo"
	sharedidempotency "github.com/snapcart/capture-api/internal/shared/idempotency"
)

type CheckoutCaptureService interface {
	Capture(ctx context.Context, orderID string) (vo.CaptureResult, error)
}

type CheckoutCaptureHandler struct {
	service CheckoutCaptureService
	logger  *slog.Logger
}

type checkoutRequest struct {
	OrderID string `json:"order_id"`
}

func NewCheckoutCaptureHandler(service CheckoutCaptureService, logger *slog.Logger) *CheckoutCaptureHandler {
	return &CheckoutCaptureHandler{service: service, logger: logger}
}

func (h *CheckoutCaptureHandler) Register(router fiber.Router) {
	router.Post("/checkout", h.Handle)
}

func (h *CheckoutCaptureHandler) Handle(c fiber.Ctx) error {
	var requestBody checkoutRequest
	if err := c.Bind().JSON(&requestBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if requestBody.OrderID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "order_id is required",
		})
	}

	result, err := h.service.Capture(c.Context(), requestBody.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, sharedidempotency.ErrInvalidOrderID):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "order_id is invalid"})
		case errors.Is(err, vo.ErrOrderNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
		case errors.Is(err, vo.ErrCaptureFailed):
			h.logger.Error("capture failed upstream", "order_id", requestBody.OrderID, "error", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_failed"})
		default:
			h.logger.Error("failed to capture order", "order_id", requestBody.OrderID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(result)
}
