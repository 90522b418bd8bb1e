package app

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/snapcart/capture-api/internal/handlers"
	"github.com/snapcart/capture-api/internal/middlewares"
	sharedjwt "github.com/snapcart/capture-api/internal/shared/jwt"
	sharedratelimit "github.com/snapcart/capture-api/internal/shared/ratelimit"
	"go.uber.org/fx"
)

type routerGroupsOut struct {
	fx.Out
	Public    fiber.Router `name:"api_public"`
	Protected fiber.Router `name:"api_protected"`
}

func provideRouterGroups(
	app *fiber.App,
	logger *slog.Logger,
	tokenManager sharedjwt.TokenManager,
) routerGroupsOut {
	app.Use(middlewares.NewHTTPRecoveryMiddleware())
	app.Use(middlewares.NewHTTPRequestIDMiddleware())
	app.Use(middlewares.NewHTTPCORSMiddleware())
	app.Use(middlewares.NewHTTPRequestResponseLogMiddleware(logger))

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	protected := api.Group("", middlewares.NewHTTPJWTMiddleware(tokenManager))

	return routerGroupsOut{
		Public:    api,
		Protected: protected,
	}
}

type authRoutesIn struct {
	fx.In
	Public  fiber.Router `name:"api_public"`
	Handler *handlers.AuthLoginHandler
}

func registerAuthRoutes(in authRoutesIn) {
	in.Handler.Register(in.Public)
}

type checkoutRoutesIn struct {
	fx.In
	Protected      fiber.Router            `name:"api_protected"`
	RateLimiter    sharedratelimit.Limiter `name:"checkout_rate_limiter"`
	Logger         *slog.Logger
	CaptureHandler *handlers.CheckoutCaptureHandler
	StatusHandler  *handlers.OrderStatusHandler
}

func registerCheckoutRoutes(in checkoutRoutesIn) {
	rateLimitMiddleware := middlewares.NewHTTPRateLimitMiddleware(middlewares.RateLimitConfig{
		Limiter:      in.RateLimiter,
		Logger:       in.Logger,
		KeyExtractor: middlewares.PerUserKeyExtractor("checkout"),
	})

	checkoutRouter := in.Protected.Group("", rateLimitMiddleware)
	in.CaptureHandler.Register(checkoutRouter)
	in.StatusHandler.Register(in.Protected)
}
