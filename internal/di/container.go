package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/payments"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/config"
	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/idempotency"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/jobs"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/observability"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
	firestoreRepo "github.com/NagabhushanAdiga/shop-e/internal/repositories/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories/memory"
	postgresRepo "github.com/NagabhushanAdiga/shop-e/internal/repositories/postgres"
	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

const meterName = "github.com/NagabhushanAdiga/shop-e"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders        services.OrderService
	Inventory     services.InventoryService
	Stats         services.CustomerStatsService
	Counters      services.CounterService
	Notifications services.NotificationService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store

	logger  *zap.Logger
	closers []func(context.Context) error
}

// ContainerOption customises NewContainer.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	registry repositories.Registry
	build    services.BuildInfo
	clock    func() time.Time
	sinks    []services.NotificationSink
	verifier services.PaymentVerifier
}

// WithRegistry supplies a prebuilt registry instead of dialing the configured backend.
func WithRegistry(reg repositories.Registry) ContainerOption {
	return func(o *containerOptions) { o.registry = reg }
}

// WithBuildInfo sets the metadata reported by readiness.
func WithBuildInfo(info services.BuildInfo) ContainerOption {
	return func(o *containerOptions) { o.build = info }
}

// WithClock overrides the clock handed to every service.
func WithClock(clock func() time.Time) ContainerOption {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithNotificationSinks adds sinks next to the inbox.
func WithNotificationSinks(sinks ...services.NotificationSink) ContainerOption {
	return func(o *containerOptions) { o.sinks = append(o.sinks, sinks...) }
}

// WithPaymentVerifier replaces the Stripe-backed verifier.
func WithPaymentVerifier(verifier services.PaymentVerifier) ContainerOption {
	return func(o *containerOptions) { o.verifier = verifier }
}

// NewContainer constructs the runtime dependencies for the configured backends.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...ContainerOption) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	var provider *pfirestore.Provider
	reg := options.registry
	if reg == nil {
		switch cfg.Store.Backend {
		case config.StoreMemory:
			reg = memory.NewRegistry()
		case config.StoreFirestore:
			provider = pfirestore.NewProvider(cfg.Firestore)
			fsReg, ferr := firestoreRepo.NewRegistry(provider)
			if ferr != nil {
				_ = provider.Close(ctx)
				return nil, fmt.Errorf("build firestore registry: %w", ferr)
			}
			reg = fsReg
		default:
			return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
		}
	}
	c.closers = append(c.closers, reg.Close)

	if options.registry == nil && cfg.Store.Ledger == config.StorePostgres {
		pool, perr := postgresRepo.NewPool(ctx, cfg.Postgres)
		if perr != nil {
			return nil, fmt.Errorf("build postgres ledger: %w", perr)
		}
		c.closers = append(c.closers, func(context.Context) error { pool.Close(); return nil })
		if perr := postgresRepo.Migrate(ctx, pool); perr != nil {
			return nil, fmt.Errorf("migrate postgres ledger: %w", perr)
		}
		reg, err = newLedgerRegistry(reg, pool)
		if err != nil {
			return nil, err
		}
	}
	c.Repositories = reg

	switch {
	case provider != nil:
		c.Idempotency = idempotency.NewFirestoreStore(provider, "")
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}

	sinks := options.sinks
	if options.registry == nil && provider != nil && strings.TrimSpace(cfg.PubSub.NotificationTopic) != "" {
		publisher, perr := c.newPubSubSink(ctx, cfg.PubSub)
		if perr != nil {
			return nil, perr
		}
		sinks = append(sinks, publisher)
	}

	verifier := options.verifier
	if verifier == nil {
		verifier, err = newPaymentVerifier(cfg.PSP, logger)
		if err != nil {
			return nil, err
		}
	}

	c.Services, err = buildServices(reg, cfg, options, sinks, verifier, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.Services.Notifications.Close)
	return c, nil
}

// Close drains background notifications and releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) newPubSubSink(ctx context.Context, cfg config.PubSubConfig) (services.NotificationSink, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	topic := client.Topic(cfg.NotificationTopic)
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	publisher, err := jobs.NewPubSubNotificationPublisher(topic)
	if err != nil {
		return nil, err
	}
	c.logger.Info("notifications published to pubsub", zap.String("topic", cfg.NotificationTopic))
	return publisher, nil
}

func newPaymentVerifier(cfg config.PSPConfig, logger *zap.Logger) (services.PaymentVerifier, error) {
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		logger.Warn("stripe api key not configured; orders keep a pending payment status")
		return nil, nil
	}
	events := observability.NewEventLogger(logger.Named("payments"))
	stripe, err := payments.NewStripeVerifier(payments.StripeVerifierConfig{
		APIKey:    cfg.StripeAPIKey,
		AccountID: cfg.StripeAccountID,
		Logger:    payments.StripeLogger(events),
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe verifier: %w", err)
	}
	return payments.NewManager(map[domain.PaymentMethod]services.PaymentVerifier{
		domain.PaymentMethodCard:       stripe,
		domain.PaymentMethodUPI:        stripe,
		domain.PaymentMethodNetBanking: stripe,
	})
}

func buildServices(reg repositories.Registry, cfg config.Config, options containerOptions, sinks []services.NotificationSink, verifier services.PaymentVerifier, logger *zap.Logger) (Services, error) {
	var svc Services
	events := observability.NewEventLogger(logger.Named("services"))

	metrics, err := services.NewMetrics(otel.Meter(meterName))
	if err != nil {
		return Services{}, fmt.Errorf("build metrics: %w", err)
	}

	inbox, err := services.NewInboxSink(reg.Notifications(), options.clock)
	if err != nil {
		return Services{}, fmt.Errorf("build inbox sink: %w", err)
	}
	var sink services.NotificationSink = inbox
	if len(sinks) > 0 {
		sink = append(services.FanoutSink{inbox}, sinks...)
	}

	svc.Notifications, err = services.NewNotificationService(services.NotificationServiceDeps{
		Sink:        sink,
		Admins:      reg.Admins(),
		Timeout:     cfg.Orders.NotificationTimeout,
		Concurrency: cfg.Orders.NotificationConcurrency,
		Metrics:     metrics,
		Logger:      events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}

	svc.Inventory, err = services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Metrics:  metrics,
		Logger:   events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}

	svc.Stats, err = services.NewCustomerStatsService(services.CustomerStatsServiceDeps{Stats: reg.UserStats()})
	if err != nil {
		return Services{}, fmt.Errorf("build customer stats service: %w", err)
	}

	svc.Counters, err = services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      options.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}

	messages, err := services.NewMessageFormatter(cfg.Orders.LanguageTag(), cfg.Orders.Currency)
	if err != nil {
		return Services{}, fmt.Errorf("build message formatter: %w", err)
	}

	selfCancel := make([]domain.PaymentMethod, 0, len(cfg.Orders.SelfCancelMethods))
	for _, method := range cfg.Orders.SelfCancelMethods {
		selfCancel = append(selfCancel, domain.PaymentMethod(method))
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:              reg.Orders(),
		Inventory:           svc.Inventory,
		Stats:               svc.Stats,
		Counters:            svc.Counters,
		Notifications:       svc.Notifications,
		Messages:            messages,
		Payments:            verifier,
		Currency:            cfg.Orders.Currency,
		SelfCancelMethods:   selfCancel,
		OrderNumberAttempts: cfg.Orders.OrderNumberAttempts,
		Metrics:             metrics,
		Clock:               options.clock,
		Logger:              events,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	build := options.build
	if build.Environment == "" {
		build.Environment = cfg.Server.Environment
	}
	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		Health: reg.Health(),
		Clock:  options.clock,
		Build:  build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	return svc, nil
}

// ledgerRegistry serves stock and customer statistics from Postgres while orders, counters and
// notifications stay on the document store.
type ledgerRegistry struct {
	repositories.Registry
	products *postgresRepo.ProductRepository
	stats    *postgresRepo.UserStatsRepository
	health   repositories.HealthRepository
}

func newLedgerRegistry(base repositories.Registry, pool *pgxpool.Pool) (*ledgerRegistry, error) {
	checks := []repositories.DependencyCheck{
		{Name: "postgres", Check: postgresRepo.Ping(pool)},
	}
	if base.Health() != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "documents", Check: func(ctx context.Context) error {
			report, err := base.Health().Collect(ctx)
			if err != nil {
				return err
			}
			if report.Status == domain.HealthStatusError {
				return errors.New("document store unhealthy")
			}
			return nil
		}})
	}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("ledger registry: %w", err)
	}
	return &ledgerRegistry{
		Registry: base,
		products: postgresRepo.NewProductRepository(pool),
		stats:    postgresRepo.NewUserStatsRepository(pool),
		health:   health,
	}, nil
}

func (r *ledgerRegistry) Products() repositories.ProductRepository    { return r.products }
func (r *ledgerRegistry) UserStats() repositories.UserStatsRepository { return r.stats }
func (r *ledgerRegistry) Health() repositories.HealthRepository       { return r.health }

// Close leaves the pool to the container, which owns it.
func (r *ledgerRegistry) Close(context.Context) error { return nil }
