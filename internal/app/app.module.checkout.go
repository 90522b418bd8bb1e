package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/snapcart/capture-api/internal/handlers"
	"github.com/snapcart/capture-api/internal/repository"
	"github.com/snapcart/capture-api/internal/services"
	"github.com/snapcart/capture-api/internal/shared/config"
	sharedclock "github.com/snapcart/capture-api/internal/shared/clock"
	sharedidempotency "github.com/snapcart/capture-api/internal/shared/idempotency"
	sharedprovider "github.com/snapcart/capture-api/internal/shared/provider"
	sharedstatuscache "github.com/snapcart/capture-api/internal/shared/statuscache"
	shareduid "github.com/snapcart/capture-api/internal/shared/uid"
)

func CheckoutModule() fx.Option {
	return fx.Module("checkout",
		fx.Provide(
			fx.Annotate(
				provideCheckoutRateLimiter,
				fx.ResultTags(`name:"checkout_rate_limiter"`),
			),
			provideProviderGateway,
			provideIdempotencyStore,
			provideStatusCache,
			provideOrderRepositories,
			fx.Annotate(
				provideCaptureService,
				fx.As(new(handlers.CheckoutCaptureService)),
			),
			fx.Annotate(
				provideOrderStatusService,
				fx.As(new(handlers.OrderStatusService)),
			),
			handlers.NewCheckoutCaptureHandler,
			handlers.NewOrderStatusHandler,
		),
		fx.Invoke(registerCheckoutRoutes),
	)
}

func provideProviderGateway(cfg config.ConfigProvider) (sharedprovider.Gateway, error) {
	strategy := sharedprovider.Strategy(strings.TrimSpace(strings.ToLower(cfg.GetString("provider.strategy"))))
	if strategy == "" {
		strategy = sharedprovider.StrategyHTTP
	}

	return sharedprovider.New(sharedprovider.Options{
		Strategy:           strategy,
		BaseURL:            cfg.GetString("provider.base_url"),
		Timeout:            cfg.GetDuration("provider.timeout"),
		TimeoutOrderPrefix: cfg.GetString("provider.sandbox.timeout_order_prefix"),
	})
}

type idempotencyStoreIn struct {
	fx.In

	Config config.ConfigProvider
	Redis  *redis.Client
	DB     *sqlx.DB `name:"db_orders"`
	Clock  sharedclock.Clock
	Tokens shareduid.UIDGenerator
}

func provideIdempotencyStore(in idempotencyStoreIn) (sharedidempotency.Store, error) {
	opts := sharedidempotency.Options{
		ClaimTTL:     in.Config.GetDuration("idempotency.claim_ttl"),
		CompletedTTL: in.Config.GetDuration("idempotency.completed_ttl"),
		Clock:        in.Clock,
		Tokens:       in.Tokens,
	}

	backend := strings.TrimSpace(strings.ToLower(in.Config.GetString("idempotency.store")))
	switch backend {
	case "", "memory":
		return sharedidempotency.NewMemoryStore(opts)
	case "redis":
		return sharedidempotency.NewRedisStore(in.Redis, opts, sharedidempotency.WithRedisPrefix("capture-api:idempotency"))
	case "postgres":
		return sharedidempotency.NewSQLXStore(in.DB, opts)
	default:
		return nil, fmt.Errorf("app: unknown idempotency store %q", backend)
	}
}

func provideStatusCache(cfg config.ConfigProvider, redisClient *redis.Client, clk sharedclock.Clock) (sharedstatuscache.Cache, error) {
	opts := sharedstatuscache.Options{
		TTL:   cfg.GetDuration("status_cache.ttl"),
		Clock: clk,
	}

	backend := strings.TrimSpace(strings.ToLower(cfg.GetString("status_cache.store")))
	switch backend {
	case "", "memory":
		return sharedstatuscache.NewMemoryCache(opts), nil
	case "redis":
		return sharedstatuscache.NewRedisCache(redisClient, opts, sharedstatuscache.WithRedisPrefix("capture-api:order-status"))
	default:
		return nil, fmt.Errorf("app: unknown status cache store %q", backend)
	}
}

type orderRepositoriesIn struct {
	fx.In

	Config config.ConfigProvider
	DB     *sqlx.DB `name:"db_orders"`
}

type orderRepositoriesOut struct {
	fx.Out

	Capture services.CaptureOrderRepository
	Status  services.OrderStatusRepository
}

func provideOrderRepositories(in orderRepositoriesIn) (orderRepositoriesOut, error) {
	backend := strings.TrimSpace(strings.ToLower(in.Config.GetString("orders.store")))
	switch backend {
	case "", "postgres":
		repo := repository.NewOrderRepository(in.DB)
		return orderRepositoriesOut{Capture: repo, Status: repo}, nil
	case "memory":
		repo := repository.NewMemoryOrderRepository()
		return orderRepositoriesOut{Capture: repo, Status: repo}, nil
	default:
		return orderRepositoriesOut{}, fmt.Errorf("app: unknown orders store %q", backend)
	}
}

func provideCaptureService(
	orders services.CaptureOrderRepository,
	gateway sharedprovider.Gateway,
	records sharedidempotency.Store,
	cache sharedstatuscache.Cache,
	clk sharedclock.Clock,
	sleeper sharedclock.Sleeper,
	logger *slog.Logger,
	cfg config.ConfigProvider,
) *services.CheckoutCaptureService {
	return services.NewCheckoutCaptureService(orders, gateway, records, cache, clk, sleeper, logger, services.CaptureConfig{
		MaxRetries:         cfg.GetInt("capture.max_retries"),
		BaseBackoff:        cfg.GetDuration("capture.base_backoff"),
		MaxBackoff:         cfg.GetDuration("capture.max_backoff"),
		ClaimWait:          cfg.GetDuration("capture.claim_wait"),
		DefaultAmountMinor: int64(cfg.GetInt("orders.default_amount_minor")),
		DefaultCurrency:    cfg.GetString("orders.default_currency"),
	})
}

func provideOrderStatusService(
	orders services.OrderStatusRepository,
	cache sharedstatuscache.Cache,
	logger *slog.Logger,
) *services.OrderStatusService {
	return services.NewOrderStatusService(orders, cache, logger)
}
