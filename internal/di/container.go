package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/gamevault/api/internal/checkout"
	"github.com/gamevault/api/internal/domain"
	"github.com/gamevault/api/internal/handlers"
	"github.com/gamevault/api/internal/payments"
	"github.com/gamevault/api/internal/platform/auth"
	"github.com/gamevault/api/internal/platform/config"
	pfirestore "github.com/gamevault/api/internal/platform/firestore"
	"github.com/gamevault/api/internal/platform/idempotency"
	"github.com/gamevault/api/internal/platform/jobs"
	"github.com/gamevault/api/internal/platform/observability"
	"github.com/gamevault/api/internal/platform/storage"
	"github.com/gamevault/api/internal/repositories"
	firestoreRepo "github.com/gamevault/api/internal/repositories/firestore"
	"github.com/gamevault/api/internal/repositories/memory"
	redisRepo "github.com/gamevault/api/internal/repositories/redis"
	"github.com/gamevault/api/internal/services"
)

const meterName = "github.com/gamevault/api"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart          *services.CartSessions
	Payments      services.PaymentService
	ServiceOrders services.ServiceOrderService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config      config.Config
	Services    Services
	Auth        *auth.Authenticator
	Idempotency idempotency.Store
	Build       services.BuildInfo

	logger  *zap.Logger
	closers []func() error
}

type backend struct {
	catalog     repositories.CatalogRepository
	payments    repositories.PaymentRepository
	orders      repositories.ServiceOrderRepository
	cartStorage *redisRepo.CartStorage
	events      services.EventPublisher
	uploader    services.ImageUploader
	idempotency idempotency.Store
	checks      []repositories.DependencyCheck
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	build    services.BuildInfo
	verifier auth.TokenVerifier
	catalog  []domain.Product
}

// WithLogger sets the base logger. Component loggers are derived with Named.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBuildInfo sets the build metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithTokenVerifier replaces the Firebase verifier, mainly for tests and local runs.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithCatalogSeed preloads the in-memory catalogue. Ignored for the firestore backend.
func WithCatalogSeed(products ...domain.Product) Option {
	return func(o *options) { o.catalog = append(o.catalog, products...) }
}

// NewContainer constructs the runtime dependencies for the configured backend.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = time.Now().UTC()
	}
	if o.build.Environment == "" {
		o.build.Environment = cfg.Security.Environment
	}

	c := &Container{Config: cfg, Build: o.build, logger: o.logger}

	var (
		be  backend
		err error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		be = c.memoryBackend(o)
	case config.BackendFirestore:
		be, err = c.cloudBackend(ctx, cfg)
	default:
		err = fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Idempotency = be.idempotency

	verifier := o.verifier
	if verifier == nil && strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		client, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = client
	}
	if verifier != nil {
		c.Auth = auth.NewAuthenticator(verifier)
	} else {
		c.logger.Warn("no token verifier configured; authenticated routes will reject every request")
	}

	if err := c.buildServices(cfg, be); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) memoryBackend(o options) backend {
	catalog := o.catalog
	if len(catalog) == 0 {
		catalog = demoCatalog()
	}
	return backend{
		catalog:     memory.NewCatalogRepository(catalog...),
		payments:    memory.NewPaymentRepository(),
		orders:      memory.NewServiceOrderRepository(),
		idempotency: idempotency.NewMemoryStore(),
	}
}

func (c *Container) cloudBackend(ctx context.Context, cfg config.Config) (backend, error) {
	var be backend

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	c.closers = append(c.closers, provider.Close)
	firestoreClient, err := provider.Client(ctx)
	if err != nil {
		return be, fmt.Errorf("initialise firestore client: %w", err)
	}
	if be.catalog, err = firestoreRepo.NewCatalogRepository(provider); err != nil {
		return be, fmt.Errorf("build catalog repository: %w", err)
	}
	if be.payments, err = firestoreRepo.NewPaymentRepository(provider); err != nil {
		return be, fmt.Errorf("build payment repository: %w", err)
	}
	if be.orders, err = firestoreRepo.NewServiceOrderRepository(provider); err != nil {
		return be, fmt.Errorf("build service order repository: %w", err)
	}
	be.checks = append(be.checks, repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := firestoreClient.Collection("products").Limit(1).Documents(ctx).GetAll()
			return err
		},
	})

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	c.closers = append(c.closers, redisClient.Close)
	if be.cartStorage, err = redisRepo.NewCartStorage(redisClient, redisRepo.WithTTL(cfg.Redis.CartTTL)); err != nil {
		return be, fmt.Errorf("build cart storage: %w", err)
	}
	be.idempotency = idempotency.NewRedisStore(redisClient)
	cartStorage := be.cartStorage
	be.checks = append(be.checks, repositories.DependencyCheck{
		Name:    "redis",
		Timeout: time.Second,
		Check:   cartStorage.Ping,
	})

	pubsubProject := strings.TrimSpace(cfg.PubSub.ProjectID)
	if pubsubProject == "" {
		pubsubProject = cfg.Firestore.ProjectID
	}
	pubsubClient, err := pubsub.NewClient(ctx, pubsubProject, clientOpts...)
	if err != nil {
		return be, fmt.Errorf("initialise pubsub client: %w", err)
	}
	c.closers = append(c.closers, pubsubClient.Close)
	topic := pubsubClient.Topic(cfg.PubSub.EventsTopic)
	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		return be, err
	}
	c.closers = append(c.closers, func() error { publisher.Stop(); return nil })
	be.events = publisher
	be.checks = append(be.checks, repositories.DependencyCheck{
		Name:    "pubsub",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", cfg.PubSub.EventsTopic)
			}
			return nil
		},
	})

	if bucket := strings.TrimSpace(cfg.Storage.ImagesBucket); bucket != "" {
		storageClient, err := gcs.NewClient(ctx, clientOpts...)
		if err != nil {
			return be, fmt.Errorf("initialise storage client: %w", err)
		}
		c.closers = append(c.closers, storageClient.Close)
		uploader, err := storage.NewBucketImageUploader(storageClient, bucket, storage.WithUploadTTL(cfg.Storage.UploadURLTTL))
		if err != nil {
			return be, fmt.Errorf("build image uploader: %w", err)
		}
		be.uploader = uploader
	} else {
		c.logger.Warn("storage images bucket not configured; admin image uploads disabled")
	}

	return be, nil
}

func (c *Container) buildServices(cfg config.Config, be backend) error {
	processor, breaker, err := c.buildProcessor(cfg)
	if err != nil {
		return err
	}

	cartOpts := services.CartServiceDeps{
		Catalog: be.catalog,
		Clock:   time.Now,
		Logger:  observability.ServiceLogger(c.logger.Named("cart")),
	}
	if be.cartStorage != nil {
		cartOpts.Storage = be.cartStorage
	}
	carts, err := services.NewCartService(cartOpts)
	if err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}
	c.Services.Cart = carts

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Catalog:     be.catalog,
		Payments:    be.payments,
		Processor:   processor,
		Events:      be.events,
		Meter:       otel.Meter(meterName),
		Clock:       time.Now,
		Currency:    cfg.Checkout.Currency,
		Description: cfg.Checkout.Description,
		Logger:      observability.ServiceLogger(c.logger.Named("payments")),
	})
	if err != nil {
		return fmt.Errorf("build payment service: %w", err)
	}
	c.Services.Payments = paymentSvc

	orderSvc, err := services.NewServiceOrderService(services.ServiceOrderServiceDeps{
		Orders:   be.orders,
		Uploader: be.uploader,
		Events:   be.events,
		Clock:    time.Now,
		Currency: cfg.Checkout.Currency,
		Logger:   observability.ServiceLogger(c.logger.Named("service_orders")),
	})
	if err != nil {
		return fmt.Errorf("build service order service: %w", err)
	}
	c.Services.ServiceOrders = orderSvc

	healthRepo, err := repositories.NewDependencyHealthRepository(be.checks)
	if err != nil {
		return fmt.Errorf("build health repository: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            time.Now,
		Build:            c.Build,
		Breakers:         map[string]func() string{"payments": breaker.State},
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}
	c.Services.System = systemSvc
	return nil
}

// buildProcessor puts the configured processor behind a circuit breaker and a Manager.
func (c *Container) buildProcessor(cfg config.Config) (*payments.Manager, *payments.BreakerProcessor, error) {
	paymentsLogger := observability.ServiceLogger(c.logger.Named("psp"))

	var processor payments.Processor
	switch cfg.PSP.Provider {
	case "stripe":
		stripeProcessor, err := payments.NewStripeProcessor(payments.StripeProcessorConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: paymentsLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build stripe processor: %w", err)
		}
		processor = stripeProcessor
	case "sandbox":
		if cfg.Backend != config.BackendMemory {
			c.logger.Warn("sandbox payment processor in use; no real charges will be made")
		}
		processor = payments.NewSandboxProcessor()
	default:
		return nil, nil, fmt.Errorf("unsupported payment provider %q", cfg.PSP.Provider)
	}

	breaker, err := payments.NewBreakerProcessor(processor, payments.BreakerConfig{
		Name:                cfg.PSP.Provider,
		ConsecutiveFailures: uint32(cfg.PSP.BreakerFailures),
		OpenTimeout:         cfg.PSP.BreakerTimeout,
		Logger:              paymentsLogger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build payment breaker: %w", err)
	}
	manager, err := payments.NewManager(
		map[string]payments.Processor{cfg.PSP.Provider: breaker},
		payments.WithDefaultProvider(cfg.PSP.Provider),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, breaker, nil
}

// RouterOptions returns the handler wiring for every route group.
func (c *Container) RouterOptions(middlewares ...func(http.Handler) http.Handler) []handlers.Option {
	paymentOpts := []handlers.PaymentHandlerOption{
		handlers.WithPaymentRateLimit(c.Config.Security.PaymentRateLimit, c.Config.Security.PaymentRateWindow, nil),
	}
	if c.Idempotency != nil {
		paymentOpts = append(paymentOpts, handlers.WithProcessMiddlewares(idempotency.Middleware(
			c.Idempotency,
			idempotency.WithHeader(c.Config.Idempotency.Header),
			idempotency.WithTTL(c.Config.Idempotency.TTL),
			idempotency.WithLogger(observability.NewPrintfAdapter(c.logger.Named("idempotency"))),
		)))
	}

	cartHandlers := handlers.NewCartHandlers(c.Auth, c.Services.Cart)
	paymentHandlers := handlers.NewPaymentHandlers(c.Auth, c.Services.Payments, paymentOpts...)
	orderHandlers := handlers.NewServiceOrderHandlers(c.Auth, c.Services.ServiceOrders)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(c.Build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	opts := []handlers.Option{
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithPaymentMiddlewares(middleware.NoCache),
		handlers.WithServiceOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(orderHandlers.AdminRoutes),
	}
	if len(middlewares) > 0 {
		opts = append(opts, handlers.WithMiddlewares(middlewares...))
	}
	return opts
}

// CheckoutDeps returns orchestrator deps bound to this deployment: a backend that calls the API at
// baseURL with the configured idempotency header, and the configured result page. Callers add the
// cart, widget and navigation adapters.
func (c *Container) CheckoutDeps(baseURL string, token func(ctx context.Context) (string, error), opts ...checkout.HTTPBackendOption) (checkout.Deps, error) {
	backendOpts := []checkout.HTTPBackendOption{
		checkout.WithBearerToken(token),
		checkout.WithIdempotencyHeader(c.Config.Idempotency.Header),
	}
	backend, err := checkout.NewHTTPBackend(baseURL, append(backendOpts, opts...)...)
	if err != nil {
		return checkout.Deps{}, fmt.Errorf("build checkout backend: %w", err)
	}
	return checkout.Deps{
		Backend:   backend,
		ResultURL: c.Config.Checkout.SuccessURL,
		Logger:    observability.ServiceLogger(c.logger.Named("checkout")),
	}, nil
}

// EvictIdleCarts drops in-memory cart sessions untouched for longer than idle.
func (c *Container) EvictIdleCarts(now time.Time, idle time.Duration) int {
	if c == nil || c.Services.Cart == nil {
		return 0
	}
	return c.Services.Cart.EvictIdle(now.Add(-idle))
}

// Close releases clients in reverse order of creation.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func demoCatalog() []domain.Product {
	stock := func(n int) *int { return &n }
	return []domain.Product{
		{ID: "prod_dualsense", Type: domain.ItemTypeProduct, Name: "Joystick DualSense", Price: 95000, Stock: stock(10), Active: true},
		{ID: "prod_hdmi_cable", Type: domain.ItemTypeProduct, Name: "Cable HDMI 2.1", Price: 12000, Stock: stock(25), Active: true},
		{ID: "course_console_repair", Type: domain.ItemTypeCourse, Name: "Curso de reparación de consolas", Price: 180000, Active: true},
		{ID: "svc_cleaning", Type: domain.ItemTypeService, Name: "Limpieza y cambio de pasta térmica", Price: 35000, Active: true},
	}
}
