package recalc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderedit/internal/cart"
	"github.com/vladislavdragonenkov/orderedit/internal/catalog"
	"github.com/vladislavdragonenkov/orderedit/internal/converter"
	"github.com/vladislavdragonenkov/orderedit/internal/domain"
	"github.com/vladislavdragonenkov/orderedit/internal/metrics"
	"github.com/vladislavdragonenkov/orderedit/internal/order"
	"github.com/vladislavdragonenkov/orderedit/internal/price"
	"github.com/vladislavdragonenkov/orderedit/internal/versioning"
)

// ProductCatalog находит товар по ID или возвращает ErrProductNotFound.
type ProductCatalog interface {
	Product(ctx context.Context, id string) (catalog.Product, error)
}

// CartProcessor пересчитывает корзину.
type CartProcessor interface {
	Process(ctx context.Context, c *cart.Cart, sc cart.SalesContext, behavior cart.Behavior) (*cart.Cart, error)
}

// Options переопределяет поведение пересчёта; nil оставляет значение по умолчанию.
type Options struct {
	KeepInactiveProduct      *bool `json:"keepInactiveProduct,omitempty"`
	SkipProductRecalculation *bool `json:"skipProductRecalculation,omitempty"`
}

func (o Options) behavior() cart.Behavior {
	b := cart.RecalculationBehavior()
	if o.KeepInactiveProduct != nil {
		b.KeepInactiveProduct = *o.KeepInactiveProduct
	}
	if o.SkipProductRecalculation != nil {
		b.SkipProductRecalculation = *o.SkipProductRecalculation
	}
	return b
}

// Result содержит мягкие ошибки операции: сама операция при этом успешна.
type Result struct {
	Errors cart.Errors `json:"errors"`
}

// Service изменяет и пересчитывает заказы в версиях.
type Service struct {
	orders    domain.OrderRepository
	versions  *versioning.Manager
	processor CartProcessor
	converter *converter.Converter
	products  ProductCatalog
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	metrics   *metrics.RecalcMetrics
	logger    *log.Entry
	now       func() time.Time
	newID     func() string

	currency string
	taxState price.TaxState
	rounding price.CashRounding
}

// Option настраивает Service.
type Option func(*Service)

// WithTimeline включает запись событий жизненного цикла заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = repo
	}
}

// WithOutbox включает публикацию событий через outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = repo
	}
}

// WithMetrics включает метрики событий.
func WithMetrics(m *metrics.RecalcMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSalesDefaults задаёт валюту и режим налогов новых заказов.
func WithSalesDefaults(currency string, state price.TaxState) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = currency
		}
		if state != "" {
			s.taxState = state
		}
	}
}

// NewService собирает сервис пересчёта.
func NewService(
	orders domain.OrderRepository,
	versions *versioning.Manager,
	proc CartProcessor,
	conv *converter.Converter,
	products ProductCatalog,
	opts ...Option,
) *Service {
	s := &Service{
		orders:    orders,
		versions:  versions,
		processor: proc,
		converter: conv,
		products:  products,
		logger:    log.WithField("component", "recalc-service"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		currency:  "EUR",
		taxState:  price.TaxStateGross,
		rounding:  price.DefaultRounding(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// change описывает изменение заказа перед пересчётом.
type change struct {
	name     string
	behavior cart.Behavior
	// order меняет сохранённый заказ до построения контекста продаж.
	order func(o *domain.Order) error
	// cart меняет корзину перед обработкой и может вернуть мягкие ошибки.
	cart func(ctx context.Context, c *cart.Cart) (cart.Errors, error)
}

// Recalculate пересчитывает заказ в версии без изменений состава.
func (s *Service) Recalculate(ctx context.Context, orderID, versionID string, opts Options) (Result, error) {
	return s.apply(ctx, orderID, versionID, change{name: "recalculate", behavior: opts.behavior()})
}

func (s *Service) apply(ctx context.Context, orderID, versionID string, ch change) (Result, error) {
	if versionID == "" {
		return Result{}, fmt.Errorf("%w: version id is required", domain.ErrInvalidArgument)
	}
	if versionID == domain.LiveVersionID {
		return Result{}, domain.ErrOrderCanNotBeRecalculated
	}

	stored, err := s.orders.Load(ctx, orderID, versionID)
	if err != nil {
		return Result{}, err
	}
	if ch.order != nil {
		if err := ch.order(&stored); err != nil {
			return Result{}, err
		}
	}

	sc := converter.SalesContext(stored, s.now())
	c, err := s.converter.ConvertToCart(stored)
	if err != nil {
		return Result{}, err
	}

	var softErrors cart.Errors
	if ch.cart != nil {
		if softErrors, err = ch.cart(ctx, c); err != nil {
			return Result{}, err
		}
	}

	processed, err := s.processor.Process(ctx, c, sc, ch.behavior)
	if err != nil {
		return Result{}, err
	}
	updated, err := s.converter.ConvertToOrder(processed, sc, converter.ConversionContext{
		Existing:            &stored,
		ExcludeTransactions: true,
	})
	if err != nil {
		return Result{}, err
	}
	if err := s.orders.Save(ctx, updated); err != nil {
		return Result{}, err
	}

	for _, e := range processed.Errors {
		softErrors = softErrors.Add(e)
	}
	s.logger.WithFields(log.Fields{
		"order_id":    orderID,
		"version_id":  versionID,
		"operation":   ch.name,
		"soft_errors": len(softErrors),
		"total_price": updated.Price.TotalPrice.String(),
	}).Info("order recalculated")

	s.emit(ctx, updated.ID, versionID, domain.TimelineOrderRecalculated, domain.EventOrderRecalculated, ch.name, &updated)
	if softErrors == nil {
		softErrors = cart.Errors{}
	}
	return Result{Errors: softErrors}, nil
}

// GetOrder читает заказ; пустая версия означает live.
func (s *Service) GetOrder(ctx context.Context, orderID, versionID string) (domain.Order, error) {
	if versionID == "" {
		versionID = domain.LiveVersionID
	}
	return s.orders.Load(ctx, orderID, versionID)
}

// CreateVersion клонирует заказ в версию. Пустой versionID создаёт новую версию.
func (s *Service) CreateVersion(ctx context.Context, orderID, versionID, name string) (versioning.Version, error) {
	v, err := s.versions.CreateVersion(ctx, order.EntityOrder, orderID, versioning.CreateOptions{VersionID: versionID, Name: name})
	if errors.Is(err, domain.ErrRowNotFound) {
		return versioning.Version{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return versioning.Version{}, err
	}
	s.emit(ctx, orderID, v.ID, domain.TimelineVersionCreated, domain.EventVersionCreated, name, nil)
	return v, nil
}

// MergeVersion переносит версию в live.
func (s *Service) MergeVersion(ctx context.Context, versionID string) (versioning.MergeResult, error) {
	v, err := s.versions.Version(ctx, versionID)
	if err != nil {
		return versioning.MergeResult{}, err
	}
	res, err := s.versions.Merge(ctx, versionID)
	if err != nil {
		return versioning.MergeResult{}, err
	}
	s.emit(ctx, v.EntityID, versionID, domain.TimelineVersionMerged, domain.EventVersionMerged, v.Name, nil)
	return res, nil
}

// DeleteVersion удаляет версию без слияния.
func (s *Service) DeleteVersion(ctx context.Context, versionID string) error {
	v, err := s.versions.Version(ctx, versionID)
	if err != nil {
		return err
	}
	if err := s.versions.DeleteVersion(ctx, versionID); err != nil {
		return err
	}
	s.emit(ctx, v.EntityID, versionID, domain.TimelineVersionDeleted, domain.EventVersionDeleted, v.Name, nil)
	return nil
}

// emit записывает событие в timeline и outbox. Ошибки только логируются:
// изменение заказа к этому моменту уже сохранено, поэтому отмена ctx
// запроса запись события не прерывает.
func (s *Service) emit(ctx context.Context, orderID, versionID, timelineType, eventType, reason string, o *domain.Order) {
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	logger := s.logger.WithFields(log.Fields{"order_id": orderID, "version_id": versionID, "event_type": eventType})

	if s.timeline != nil {
		err := s.timeline.Append(ctx, domain.TimelineEvent{OrderID: orderID, Type: timelineType, Reason: reason, Occurred: now})
		if err != nil {
			logger.WithError(err).Warn("failed to append timeline event")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	event := domain.OrderEvent{OrderID: orderID, VersionID: versionID, Occurred: now}
	if reason != "" {
		event.Metadata = map[string]string{"reason": reason}
	}
	if o != nil {
		event.TotalPrice = o.Price.TotalPrice.String()
		event.Currency = o.Currency
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Warn("failed to marshal outbox event")
		return
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            s.newID(),
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		logger.WithError(err).Warn("failed to enqueue outbox event")
		return
	}
	s.metrics.RecordOutboxEvent()
}
