package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dmarkhas/bookcart/internal/cache"
	"github.com/dmarkhas/bookcart/internal/domain/cart"
	"github.com/dmarkhas/bookcart/internal/domain/checkout"
	"github.com/dmarkhas/bookcart/internal/domain/order"
	"github.com/dmarkhas/bookcart/internal/gateway"
	"github.com/dmarkhas/bookcart/internal/httpapi"
	"github.com/dmarkhas/bookcart/internal/monitor"
	"github.com/dmarkhas/bookcart/internal/postgres"
	"github.com/dmarkhas/bookcart/pkg/health"
	"github.com/dmarkhas/bookcart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the payment
// monitor, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis client for the cart cache.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	bookRepo := postgres.NewBookRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	cartCache := cache.New(redisClient, cfg.CacheTTL)
	cartService := cart.NewService(sessionRepo, cartRepo, cartCache, cfg.SessionTTL, lg.Named("cart"))

	paymentGateway := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Payment.BaseURL,
		ShopID:    cfg.Payment.ShopID,
		SecretKey: cfg.Payment.SecretKey,
		ReturnURL: cfg.Payment.ReturnURL,
	}, nil)

	fulfillment := order.NewFulfillment(sessionRepo, cartService, paymentRepo, orderRepo, lg.Named("fulfillment"))
	paymentMonitor, err := monitor.New(monitor.Config{
		Workers:        cfg.Monitor.Workers,
		QueueSize:      cfg.Monitor.QueueSize,
		Interval:       cfg.Monitor.Interval,
		RequestTimeout: cfg.Monitor.RequestTimeout,
		MaxAttempts:    cfg.Monitor.MaxAttempts,
	}, paymentGateway, paymentRepo, fulfillment, lg.Named("monitor"), m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "create payment monitor")
	}

	checkoutService := checkout.NewService(
		cartService,
		paymentGateway,
		paymentRepo,
		paymentMonitor,
		cfg.Payment.Currency,
		cfg.Payment.Provider,
		lg.Named("checkout"),
	)

	// The monitor outlives any request: it runs on the process context.
	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- paymentMonitor.Run(ctx)
	}()

	// HTTP handlers.
	security := httpapi.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := httpapi.NewHandler(cartService, checkoutService, bookRepo, orderRepo, paymentMonitor, security, lg.Named("http"))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("bookcart-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone

	if err := <-monitorDone; err != nil {
		lg.Error("Payment monitor stopped with error", zap.Error(err))
	}
	return nil
}
