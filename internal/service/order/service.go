package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/cache"
	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/database"
	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/notify"
	"github.com/Additional-Code/loadmatch/internal/repository/assignment"
	repo "github.com/Additional-Code/loadmatch/internal/repository/order"
	userrepo "github.com/Additional-Code/loadmatch/internal/repository/user"
	"github.com/Additional-Code/loadmatch/internal/watch"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

const instrumentationName = "github.com/Additional-Code/loadmatch/service/order"

var serviceTracer = otel.Tracer(instrumentationName)

// maxOrderCacheTTL bounds how long a fill raced by another process's write
// can be served.
const maxOrderCacheTTL = 30 * time.Second

// Service is the only writer of order state. It owns the lifecycle state
// machine and the concurrency guard around loader assignment.
type Service struct {
	orders   *repo.Repository
	members  *assignment.Repository
	users    *userrepo.Repository
	notifier notify.Notifier
	hub      *watch.Hub
	cache    cache.Store
	cacheTTL time.Duration
	cacheGen atomic.Uint64
	logger   *zap.Logger
	metrics  metrics
	now      func() time.Time
}

type metrics struct {
	created   metric.Int64Counter
	taken     metric.Int64Counter
	conflicts metric.Int64Counter
	completed metric.Int64Counter
	cancelled metric.Int64Counter
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders      *repo.Repository
	Assignments *assignment.Repository
	Users       *userrepo.Repository
	Notifier    notify.Notifier
	Hub         *watch.Hub
	Cache       cache.Store
	Config      config.Config
	Logger      *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) (*Service, error) {
	m, err := newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}

	return &Service{
		orders:   p.Orders,
		members:  p.Assignments,
		users:    p.Users,
		notifier: p.Notifier,
		hub:      p.Hub,
		cache:    p.Cache,
		cacheTTL: orderCacheTTL(p.Config.Cache.DefaultTTL),
		logger:   p.Logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func orderCacheTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > maxOrderCacheTTL {
		return maxOrderCacheTTL
	}
	return ttl
}

func newMetrics(meter metric.Meter) (metrics, error) {
	var (
		m    metrics
		errs []error
		err  error
	)
	m.created, err = meter.Int64Counter("orders.created", metric.WithDescription("Orders posted by dispatchers"))
	errs = append(errs, err)
	m.taken, err = meter.Int64Counter("orders.taken", metric.WithDescription("Successful loader joins"))
	errs = append(errs, err)
	m.conflicts, err = meter.Int64Counter("orders.take_conflicts", metric.WithDescription("Joins rejected because the order was already taken"))
	errs = append(errs, err)
	m.completed, err = meter.Int64Counter("orders.completed", metric.WithDescription("Orders completed"))
	errs = append(errs, err)
	m.cancelled, err = meter.Int64Counter("orders.cancelled", metric.WithDescription("Orders cancelled"))
	errs = append(errs, err)
	return m, errors.Join(errs...)
}

// Get retrieves an order by id, consulting cache when available. Lifecycle
// decisions never read the cache.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if order, err := s.getFromCache(ctx, id); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	gen := s.cacheGen.Load()
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, s.orderError(span, id, err)
	}

	if err := s.storeInCache(ctx, order, gen); err != nil {
		s.logger.Warn("orders cache write failed", zap.Int64("id", id), zap.Error(err))
	}

	return order, nil
}

// ListByStatus returns orders in status, newest scheduled first.
func (s *Service) ListByStatus(ctx context.Context, status entity.Status) ([]entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListByStatus")
	defer span.End()

	orders, err := s.orders.ListByStatus(ctx, status)
	if err != nil {
		return nil, storeError(span, "failed to list orders", err)
	}
	return orders, nil
}

// ListByWorker returns every order the loader joined.
func (s *Service) ListByWorker(ctx context.Context, workerID int64) ([]entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListByWorker")
	defer span.End()

	orders, err := s.orders.ListByWorker(ctx, workerID)
	if err != nil {
		return nil, storeError(span, "failed to list worker orders", err)
	}
	return orders, nil
}

// ListByDispatcher returns every order the dispatcher posted.
func (s *Service) ListByDispatcher(ctx context.Context, dispatcherID int64) ([]entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListByDispatcher")
	defer span.End()

	orders, err := s.orders.ListByDispatcher(ctx, dispatcherID)
	if err != nil {
		return nil, storeError(span, "failed to list dispatcher orders", err)
	}
	return orders, nil
}

// Search matches text against address and cargo description.
func (s *Service) Search(ctx context.Context, text string, status *entity.Status) ([]entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Search")
	defer span.End()

	orders, err := s.orders.Search(ctx, text, status)
	if err != nil {
		return nil, storeError(span, "failed to search orders", err)
	}
	return orders, nil
}

// List resolves a filter to one of the list queries. An empty filter lists
// AVAILABLE orders.
func (s *Service) List(ctx context.Context, f watch.Filter) ([]entity.Order, error) {
	var (
		orders []entity.Order
		err    error
	)
	switch {
	case f.Query != "":
		return s.Search(ctx, f.Query, f.Status)
	case f.WorkerID != nil:
		orders, err = s.ListByWorker(ctx, *f.WorkerID)
	case f.DispatcherID != nil:
		orders, err = s.ListByDispatcher(ctx, *f.DispatcherID)
	case f.Status != nil:
		return s.ListByStatus(ctx, *f.Status)
	default:
		return s.ListByStatus(ctx, entity.StatusAvailable)
	}
	if err != nil || f.Status == nil {
		return orders, err
	}

	filtered := orders[:0]
	for _, o := range orders {
		if o.Status == *f.Status {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

// Workers returns the loaders on an order in join order.
func (s *Service) Workers(ctx context.Context, orderID int64) ([]entity.OrderWorker, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Workers", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, s.orderError(span, orderID, err)
	}
	rows, err := s.members.Members(ctx, orderID)
	if err != nil {
		return nil, storeError(span, "failed to load order workers", err)
	}
	return rows, nil
}

// Watch subscribes to a live view of List(f).
func (s *Service) Watch(ctx context.Context, f watch.Filter) <-chan watch.Snapshot {
	return s.hub.Subscribe(ctx, f, s.List)
}

// changed runs after every committed write. Bumping the generation before
// the delete makes any fill that read the old row drop its entry.
func (s *Service) changed(ctx context.Context, id int64) {
	s.cacheGen.Add(1)
	if s.cache == nil {
		s.hub.Signal()
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey(id)); err != nil {
		s.logger.Warn("orders cache invalidate failed", zap.Int64("id", id), zap.Error(err))
	}
	s.hub.Signal()
}

func (s *Service) cacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*entity.Order, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, s.cacheKey(id))
	if err != nil {
		return nil, err
	}
	var order entity.Order
	if err := json.Unmarshal(bytes, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// storeInCache fills the entry for order, read while the write generation
// was gen. A write that lands during the fill removes the entry again.
func (s *Service) storeInCache(ctx context.Context, order *entity.Order, gen uint64) error {
	if s.cache == nil || order == nil || s.cacheGen.Load() != gen {
		return nil
	}
	bytes, err := json.Marshal(order)
	if err != nil {
		return err
	}
	key := s.cacheKey(order.ID)
	if err := s.cache.Set(ctx, key, bytes, s.cacheTTL); err != nil {
		return err
	}
	if s.cacheGen.Load() != gen {
		return s.cache.Delete(ctx, key)
	}
	return nil
}

// orderError maps a repository read error for order id.
func (s *Service) orderError(span trace.Span, id int64, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		span.SetStatus(codes.Error, "not found")
		return errorbank.NotFound(fmt.Sprintf("order %d not found", id), errorbank.WithDetail("order_id", id))
	}
	return storeError(span, "failed to load order", err)
}

// storeError converts a persistence failure, passing AppErrors through.
func storeError(span trace.Span, msg string, err error) error {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	if database.IsUnavailable(err) {
		return errorbank.StoreUnavailable(msg, errorbank.WithCause(err))
	}
	return errorbank.Internal(msg, errorbank.WithCause(err))
}
