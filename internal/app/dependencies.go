package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/catalog"
	"github.com/vladislavdragonenkov/orderedit/internal/converter"
	"github.com/vladislavdragonenkov/orderedit/internal/delivery"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orderedit/internal/health"
	"github.com/vladislavdragonenkov/orderedit/internal/metrics"
	"github.com/vladislavdragonenkov/orderedit/internal/order"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/processor"
	"github.com/vladislavdragonenkov/orderedit/internal/promotion"
	"github.com/vladislavdragonenkov/orderedit/internal/recalc"
	"github.com/vladislavdragonenkov/orderedit/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderedit/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

const storagePingTimeout = 2 * time.Second

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	rows         versioning.Store
	locks        versioning.LockProvider
	outboxRepo   domain.OutboxRepository
	timelineRepo domain.TimelineRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			rows:         memory.NewRowStore(),
			locks:        memory.NewLocker(),
			outboxRepo:   memory.NewOutboxRepository(),
			timelineRepo: memory.NewTimelineRepository(),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(logger.WithField("storage", StorageDriverPostgres)))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		return &runtimeDependencies{
			rows:           postgres.NewRowStore(store),
			locks:          postgres.NewAdvisoryLocker(store),
			outboxRepo:     postgres.NewOutboxRepository(store),
			timelineRepo:   postgres.NewTimelineRepository(store),
			storageChecker: healthcheck.NewPingChecker("postgres", storagePingTimeout, store.Ping),
			closeFn:        store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// newRecalcService собирает конвейер пересчёта поверх выбранного хранилища.
func newRecalcService(cfg Config, deps *runtimeDependencies, cat *catalog.Catalog, registerer prometheus.Registerer, logger *log.Entry) (*recalc.Service, error) {
	schema, err := order.Schema()
	if err != nil {
		return nil, fmt.Errorf("build order schema: %w", err)
	}

	recalcMetrics := metrics.NewRecalcMetricsWithRegisterer(registerer)
	versions := versioning.NewManager(deps.rows, deps.locks, schema,
		versioning.WithMetrics(metrics.NewVersionMetricsWithRegisterer(registerer)),
		versioning.WithLogger(logger.WithField("component", "versioning")),
	)

	proc := processor.New(
		cat,
		cat.Rules(),
		promotion.NewProcessor(cat, cat.Rules()),
		delivery.NewBuilder(cat, delivery.NewCalculator(cat.Rules())),
		processor.WithMetrics(recalcMetrics),
		processor.WithLogger(logger.WithField("component", "cart-processor")),
	)

	return recalc.NewService(
		order.NewRepository(versions),
		versions,
		proc,
		converter.New(),
		cat,
		recalc.WithTimeline(deps.timelineRepo),
		recalc.WithOutbox(deps.outboxRepo),
		recalc.WithMetrics(recalcMetrics),
		recalc.WithLogger(logger.WithField("component", "recalc-service")),
		recalc.WithSalesDefaults(cfg.Currency, price.TaxState(cfg.TaxState)),
	), nil
}
