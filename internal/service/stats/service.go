package stats

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/database"
	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/repository/assignment"
	orderrepo "github.com/Additional-Code/loadmatch/internal/repository/order"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

var statsTracer = otel.Tracer("github.com/Additional-Code/loadmatch/service/stats")

// Module provides the statistics service to Fx.
var Module = fx.Provide(NewService)

// WorkerSummary bundles a loader's aggregates.
type WorkerSummary struct {
	WorkerID        int64
	JoinedOrders    int
	CompletedOrders int
	TotalEarnings   decimal.Decimal
	AverageRating   *float64
}

// DispatcherSummary bundles a dispatcher's aggregates.
type DispatcherSummary struct {
	DispatcherID    int64
	CompletedOrders int
	ActiveOrders    int
}

// Service computes statistics from order history on every call. Unknown ids
// yield zero values, not errors.
type Service struct {
	orders  *orderrepo.Repository
	members *assignment.Repository
}

// NewService wires a new Service instance.
func NewService(orders *orderrepo.Repository, members *assignment.Repository) *Service {
	return &Service{orders: orders, members: members}
}

// CompletedOrdersCount counts COMPLETED orders the loader worked on.
func (s *Service) CompletedOrdersCount(ctx context.Context, workerID int64) (int, error) {
	ctx, span := statsTracer.Start(ctx, "StatsService.CompletedOrdersCount", trace.WithAttributes(attribute.Int64("worker.id", workerID)))
	defer span.End()

	n, err := s.orders.CountByWorker(ctx, workerID, entity.StatusCompleted)
	if err != nil {
		return 0, storeError(span, "failed to count completed orders", err)
	}
	return n, nil
}

// TotalEarnings sums price per hour times estimated hours over the loader's
// COMPLETED orders.
func (s *Service) TotalEarnings(ctx context.Context, workerID int64) (decimal.Decimal, error) {
	ctx, span := statsTracer.Start(ctx, "StatsService.TotalEarnings", trace.WithAttributes(attribute.Int64("worker.id", workerID)))
	defer span.End()

	completed, err := s.orders.ListByWorker(ctx, workerID, entity.StatusCompleted)
	if err != nil {
		return decimal.Zero, storeError(span, "failed to load completed orders", err)
	}
	return earnings(completed), nil
}

// AverageRating is the mean worker rating over the loader's rated orders, or
// nil when none is rated.
func (s *Service) AverageRating(ctx context.Context, workerID int64) (*float64, error) {
	ctx, span := statsTracer.Start(ctx, "StatsService.AverageRating", trace.WithAttributes(attribute.Int64("worker.id", workerID)))
	defer span.End()

	completed, err := s.orders.ListByWorker(ctx, workerID, entity.StatusCompleted)
	if err != nil {
		return nil, storeError(span, "failed to load completed orders", err)
	}
	return averageRating(completed), nil
}

// DispatcherCompletedCount counts the dispatcher's COMPLETED orders.
func (s *Service) DispatcherCompletedCount(ctx context.Context, dispatcherID int64) (int, error) {
	return s.dispatcherCount(ctx, "StatsService.DispatcherCompletedCount", dispatcherID, entity.StatusCompleted)
}

// DispatcherActiveCount counts the dispatcher's AVAILABLE orders.
func (s *Service) DispatcherActiveCount(ctx context.Context, dispatcherID int64) (int, error) {
	return s.dispatcherCount(ctx, "StatsService.DispatcherActiveCount", dispatcherID, entity.StatusAvailable)
}

// WorkerSummary computes every loader aggregate. JoinedOrders counts every
// order the loader joined, whatever its status.
func (s *Service) WorkerSummary(ctx context.Context, workerID int64) (WorkerSummary, error) {
	ctx, span := statsTracer.Start(ctx, "StatsService.WorkerSummary", trace.WithAttributes(attribute.Int64("worker.id", workerID)))
	defer span.End()

	joined, err := s.members.OrdersForWorker(ctx, workerID)
	if err != nil {
		return WorkerSummary{}, storeError(span, "failed to load joined orders", err)
	}
	completed, err := s.orders.ListByWorker(ctx, workerID, entity.StatusCompleted)
	if err != nil {
		return WorkerSummary{}, storeError(span, "failed to load completed orders", err)
	}
	return WorkerSummary{
		WorkerID:        workerID,
		JoinedOrders:    len(joined),
		CompletedOrders: len(completed),
		TotalEarnings:   earnings(completed),
		AverageRating:   averageRating(completed),
	}, nil
}

// DispatcherSummary computes every dispatcher aggregate.
func (s *Service) DispatcherSummary(ctx context.Context, dispatcherID int64) (DispatcherSummary, error) {
	completed, err := s.DispatcherCompletedCount(ctx, dispatcherID)
	if err != nil {
		return DispatcherSummary{}, err
	}
	active, err := s.DispatcherActiveCount(ctx, dispatcherID)
	if err != nil {
		return DispatcherSummary{}, err
	}
	return DispatcherSummary{
		DispatcherID:    dispatcherID,
		CompletedOrders: completed,
		ActiveOrders:    active,
	}, nil
}

func (s *Service) dispatcherCount(ctx context.Context, spanName string, dispatcherID int64, status entity.Status) (int, error) {
	ctx, span := statsTracer.Start(ctx, spanName, trace.WithAttributes(attribute.Int64("dispatcher.id", dispatcherID)))
	defer span.End()

	n, err := s.orders.CountByDispatcher(ctx, dispatcherID, status)
	if err != nil {
		return 0, storeError(span, "failed to count dispatcher orders", err)
	}
	return n, nil
}

func earnings(orders []entity.Order) decimal.Decimal {
	total := decimal.Zero
	for i := range orders {
		total = total.Add(orders[i].Earnings())
	}
	return total
}

func averageRating(orders []entity.Order) *float64 {
	var sum, n int
	for _, o := range orders {
		if o.WorkerRating == nil {
			continue
		}
		sum += *o.WorkerRating
		n++
	}
	if n == 0 {
		return nil
	}
	avg := float64(sum) / float64(n)
	return &avg
}

func storeError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	if database.IsUnavailable(err) {
		return errorbank.StoreUnavailable(msg, errorbank.WithCause(err))
	}
	return errorbank.Internal(msg, errorbank.WithCause(err))
}
