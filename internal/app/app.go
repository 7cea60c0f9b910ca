package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/smartpick/internal/domain/auth"
	"github.com/xenking/smartpick/internal/domain/cart"
	"github.com/xenking/smartpick/internal/domain/checkout"
	"github.com/xenking/smartpick/internal/domain/order"
	"github.com/xenking/smartpick/internal/domain/pricing"
	"github.com/xenking/smartpick/internal/events"
	"github.com/xenking/smartpick/internal/handler"
	"github.com/xenking/smartpick/internal/storage/breaker"
	"github.com/xenking/smartpick/internal/storage/kv"
	"github.com/xenking/smartpick/internal/storage/memory"
	"github.com/xenking/smartpick/internal/storage/mongo"
	"github.com/xenking/smartpick/internal/storage/postgres"
	"github.com/xenking/smartpick/internal/storage/redis"
	"github.com/xenking/smartpick/pkg/health"
	"github.com/xenking/smartpick/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("orders", cfg.Storage.Orders),
		zap.String("carts", cfg.Storage.Carts),
	)

	healthSvc := health.New()
	healthSvc.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000), health.WithTimeout(time.Second))
	healthSvc.Register(health.Liveness, "gc_pause", health.GCMaxPauseCheck(time.Second), health.WithTimeout(time.Second))

	// PostgreSQL pool + migrations. The catalog and API keys always live here.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	healthSvc.Register(health.Readiness, "postgres", health.PingCheck(pool), health.WithTimeout(5*time.Second))

	productRepo := postgres.NewProductRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Order store, behind the timeout and circuit breaker.
	var backend order.Repository
	switch cfg.Storage.Orders {
	case BackendMongo:
		db, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return errors.Wrap(err, "connect mongo")
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(disconnectCtx)
		}()
		repo := mongo.NewOrderRepository(db)
		if err := repo.CreateIndexes(ctx); err != nil {
			return errors.Wrap(err, "create order indexes")
		}
		healthSvc.Register(health.Readiness, "mongo", health.MongoCheck(db.Client()), health.WithTimeout(5*time.Second))
		backend = repo
	case BackendMemory:
		lg.Warn("Orders are kept in memory and lost on restart")
		backend = memory.NewOrderRepository()
	default:
		backend = postgres.NewOrderRepository(pool)
	}
	orderRepo := breaker.NewOrderRepository(backend, cfg.Breaker.breaker(), lg.Named("breaker"))
	healthSvc.Register(health.Readiness, "order_breaker", health.BreakerCheck(orderRepo.State))

	// Redis for carts and the shared rate limiter.
	var redisClient goredis.UniversalClient
	if cfg.usesRedis() {
		client, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = client.Close() }()
		healthSvc.Register(health.Readiness, "redis", health.RedisCheck(client), health.WithTimeout(2*time.Second))
		redisClient = client
	}

	var cartKV kv.Store
	if cfg.Storage.Carts == BackendRedis {
		cartKV = redis.New(redisClient,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.CartTTL),
		)
	} else {
		lg.Warn("Carts are kept in memory and lost on restart")
		cartKV = kv.NewMemory(cfg.Storage.CartQuota)
	}

	// Order events.
	var notifier order.Notifier = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg.Named("events")))
		defer func() {
			if err := publisher.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
		notifier = publisher
	}

	// Domain services.
	rules, err := cfg.Pricing.Rules()
	if err != nil {
		return errors.Wrap(err, "pricing rules")
	}
	calc := pricing.NewCalculator(rules)

	orderService := order.NewService(orderRepo,
		order.WithCatalog(productRepo),
		order.WithNotifier(notifier),
		order.WithDeliveryWindow(cfg.Checkout.DeliveryWindow),
	)
	checkouts, err := checkout.NewManager(orderService,
		checkout.WithMeterProvider(m.MeterProvider()),
		checkout.WithIdleTimeout(cfg.Checkout.IdleTimeout),
		checkout.WithSessionOptions(
			checkout.WithSubmitTimeout(cfg.Checkout.SubmitTimeout),
			checkout.WithCalculator(calc),
		),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout manager")
	}
	checkouts.StartCleanup(ctx, time.Minute)
	// A cart held by a live checkout stays cached so the session and the
	// cart routes keep sharing one Store.
	carts := cart.NewRegistry(cartKV, lg.Named("cart"),
		cart.WithIdleTimeout(cfg.Storage.CartIdle),
		cart.WithPinned(checkouts.Active),
	)
	carts.StartCleanup(ctx, time.Minute)

	tokens := auth.NewTokens([]byte(cfg.JWT.Secret), cfg.JWT.TTL)
	keys := auth.NewAPIKeys(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Rate limits: per client IP globally, and per user on user routes.
	ipLimit := httpmiddleware.RateLimitConfig{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	userLimit := httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: httpmiddleware.KeyByUser,
	}
	if cfg.RateLimit.Shared {
		ipLimit.Limiter = httpmiddleware.NewRedisWindow(redisClient, cfg.Redis.Prefix+"rl:ip:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		userLimit.Limiter = httpmiddleware.NewRedisWindow(redisClient, cfg.Redis.Prefix+"rl:user:", cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		carts,
		checkouts,
		orderService,
		calc,
	)

	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/", h.Routes(tokens, keys, httpmiddleware.RateLimitWithCleanup(ctx, userLimit)))
	routeFinder := httpmiddleware.MakeRouteFinder(root)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.SubmitTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.APIKeyHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, ipLimit),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("smartpick-api", routeFinder,
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
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
	return nil
}
