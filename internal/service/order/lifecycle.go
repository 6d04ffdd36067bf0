package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/entity"
	repo "github.com/Additional-Code/loadmatch/internal/repository/order"
	userrepo "github.com/Additional-Code/loadmatch/internal/repository/user"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

// CreateInput carries the dispatcher-supplied fields of a new order. Zero
// EstimatedHours and RequiredWorkers default to 1; a zero DateTime means now.
type CreateInput struct {
	Address          string
	CargoDescription string
	Comment          string
	DateTime         time.Time
	PricePerHour     decimal.Decimal
	EstimatedHours   int
	RequiredWorkers  int
	MinWorkerRating  float64
}

func (in *CreateInput) normalize() error {
	in.Address = strings.TrimSpace(in.Address)
	if in.Address == "" {
		return errorbank.Validation("address is required")
	}
	if err := entity.CheckPrice(in.PricePerHour); err != nil {
		return errorbank.Validation(err.Error(),
			errorbank.WithDetail("price_per_hour", in.PricePerHour.String()))
	}
	if in.EstimatedHours == 0 {
		in.EstimatedHours = 1
	}
	if in.EstimatedHours < 0 {
		return errorbank.Validation("estimated hours must be positive",
			errorbank.WithDetail("estimated_hours", in.EstimatedHours))
	}
	if in.RequiredWorkers == 0 {
		in.RequiredWorkers = 1
	}
	if in.RequiredWorkers < 1 {
		return errorbank.Validation("required workers must be at least 1",
			errorbank.WithDetail("required_workers", in.RequiredWorkers))
	}
	if in.MinWorkerRating < 0 || in.MinWorkerRating > entity.MaxRating {
		return errorbank.Validation("min worker rating must be within [0,5]",
			errorbank.WithDetail("min_worker_rating", in.MinWorkerRating))
	}
	return nil
}

// CreateOrder posts a new AVAILABLE order for dispatcherID.
func (s *Service) CreateOrder(ctx context.Context, dispatcherID int64, in CreateInput) (int64, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(attribute.Int64("dispatcher.id", dispatcherID)))
	defer span.End()

	if err := in.normalize(); err != nil {
		span.SetStatus(codes.Error, "validation")
		return 0, err
	}

	dispatcher, err := s.users.GetByID(ctx, dispatcherID)
	if err != nil {
		return 0, userError(span, dispatcherID, err)
	}
	if dispatcher.Role != entity.RoleDispatcher {
		return 0, errorbank.Validation("only dispatchers can create orders",
			errorbank.WithDetail("user_id", dispatcherID), errorbank.WithDetail("role", dispatcher.Role))
	}

	dateTime := in.DateTime
	if dateTime.IsZero() {
		dateTime = s.now()
	}
	order := &entity.Order{
		Address:          in.Address,
		CargoDescription: in.CargoDescription,
		Comment:          in.Comment,
		DateTime:         dateTime.UTC(),
		PricePerHour:     in.PricePerHour,
		EstimatedHours:   in.EstimatedHours,
		RequiredWorkers:  in.RequiredWorkers,
		MinWorkerRating:  in.MinWorkerRating,
		Status:           entity.StatusAvailable,
		DispatcherID:     dispatcherID,
		CreatedAt:        s.now(),
	}

	id, err := s.orders.Insert(ctx, order)
	if errors.Is(err, repo.ErrInvalidOrder) {
		return 0, errorbank.Validation(err.Error())
	}
	if err != nil {
		return 0, storeError(span, "failed to create order", err)
	}

	s.metrics.created.Add(ctx, 1)
	s.logger.Info("order created",
		zap.Int64("id", id),
		zap.Int64("dispatcher_id", dispatcherID),
		zap.Int("required_workers", order.RequiredWorkers),
	)

	s.changed(ctx, id)
	s.notifier.NotifyNewOrder(ctx, order.Address, order.PricePerHour)
	return id, nil
}

// TakeOrder joins loaderID to the order. A single-slot order becomes TAKEN by
// its first caller; a multi-slot order stays AVAILABLE until its last slot
// fills, then becomes TAKEN with the earliest joiner as primary worker.
// Losing the race yields AlreadyTaken.
func (s *Service) TakeOrder(ctx context.Context, orderID, loaderID int64) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.TakeOrder", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("loader.id", loaderID),
	))
	defer span.End()

	var (
		result *entity.Order
		loader *entity.User
	)
	err := s.orders.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		orders := s.orders.WithTx(tx)
		members := s.members.WithTx(tx)

		current, err := orders.Lock(ctx, orderID)
		if err != nil {
			return s.orderError(span, orderID, err)
		}

		loader, err = s.users.WithTx(tx).GetByID(ctx, loaderID)
		if err != nil {
			return userError(span, loaderID, err)
		}
		if loader.Role != entity.RoleLoader {
			return errorbank.Validation("only loaders can take orders",
				errorbank.WithDetail("user_id", loaderID), errorbank.WithDetail("role", loader.Role))
		}
		if current.MinWorkerRating > 0 && loader.Rating < current.MinWorkerRating {
			return errorbank.RatingTooLow("loader rating is below the order minimum",
				errorbank.WithDetail("required", current.MinWorkerRating),
				errorbank.WithDetail("actual", loader.Rating))
		}
		if current.Status != entity.StatusAvailable {
			return alreadyTaken(orderID, "order is no longer available")
		}

		if current.MultiSlot() {
			err = joinCrew(ctx, orders, members, current, loaderID)
		} else {
			err = claimAlone(ctx, orders, members, orderID, loaderID)
		}
		if err != nil {
			return err
		}

		result, err = orders.GetByID(ctx, orderID)
		if err != nil {
			return s.orderError(span, orderID, err)
		}
		return nil
	})
	if err != nil {
		if errorbank.IsKind(err, errorbank.KindAlreadyTaken) {
			s.metrics.conflicts.Add(ctx, 1)
			s.logger.Info("order take rejected", zap.Int64("id", orderID), zap.Int64("loader_id", loaderID), zap.Error(err))
			return nil, err
		}
		return nil, storeError(span, "failed to take order", err)
	}

	s.metrics.taken.Add(ctx, 1, metric.WithAttributes(attribute.Bool("order.multi_slot", result.MultiSlot())))
	s.logger.Info("order taken",
		zap.Int64("id", orderID),
		zap.Int64("loader_id", loaderID),
		zap.String("status", result.Status.String()),
	)

	s.changed(ctx, orderID)
	s.notifier.NotifyOrderTaken(ctx, result.Address, loader.Name)
	return result, nil
}

func claimAlone(ctx context.Context, orders *repo.Repository, members memberStore, orderID, loaderID int64) error {
	ok, err := orders.Claim(ctx, orderID, loaderID)
	if err != nil {
		return err
	}
	if !ok {
		return alreadyTaken(orderID, "order is no longer available")
	}
	_, err = members.Add(ctx, orderID, loaderID)
	return err
}

func joinCrew(ctx context.Context, orders *repo.Repository, members memberStore, current *entity.Order, loaderID int64) error {
	member, err := members.HasMember(ctx, current.ID, loaderID)
	if err != nil {
		return err
	}
	if member {
		return alreadyTaken(current.ID, "loader already joined this order")
	}

	ok, err := orders.Touch(ctx, current.ID)
	if err != nil {
		return err
	}
	if !ok {
		return alreadyTaken(current.ID, "order is no longer available")
	}

	added, err := members.Add(ctx, current.ID, loaderID)
	if err != nil {
		return err
	}
	if !added {
		return alreadyTaken(current.ID, "loader already joined this order")
	}

	joined, err := members.Count(ctx, current.ID)
	if err != nil {
		return err
	}
	if joined < current.RequiredWorkers {
		return nil
	}

	crew, err := members.MemberIDs(ctx, current.ID)
	if err != nil {
		return err
	}
	ok, err = orders.Claim(ctx, current.ID, crew[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %d changed while its row was locked", current.ID)
	}
	return nil
}

// memberStore is the slice of the assignment store a join needs.
type memberStore interface {
	Add(ctx context.Context, orderID, workerID int64) (bool, error)
	HasMember(ctx context.Context, orderID, workerID int64) (bool, error)
	Count(ctx context.Context, orderID int64) (int, error)
	MemberIDs(ctx context.Context, orderID int64) ([]int64, error)
}

// StartOrder moves a TAKEN order to IN_PROGRESS. The actor must be the
// order's dispatcher or one of its loaders.
func (s *Service) StartOrder(ctx context.Context, orderID, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.StartOrder", actorAttrs(orderID, actorID))
	defer span.End()

	if err := s.authorize(ctx, span, orderID, actorID, ownerOrCrew); err != nil {
		return err
	}
	ok, err := s.orders.TransitionStatus(ctx, orderID, []entity.Status{entity.StatusTaken}, entity.StatusInProgress)
	if err != nil {
		return storeError(span, "failed to start order", err)
	}
	if !ok {
		return s.rejectTransition(ctx, span, orderID, "only TAKEN orders can be started")
	}

	s.logger.Info("order started", zap.Int64("id", orderID), zap.Int64("actor_id", actorID))
	s.changed(ctx, orderID)
	return nil
}

// CompleteOrder moves a TAKEN or IN_PROGRESS order to COMPLETED, stamping
// completed_at. The actor must be the order's dispatcher or one of its loaders.
func (s *Service) CompleteOrder(ctx context.Context, orderID, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.CompleteOrder", actorAttrs(orderID, actorID))
	defer span.End()

	if err := s.authorize(ctx, span, orderID, actorID, ownerOrCrew); err != nil {
		return err
	}
	ok, err := s.orders.Complete(ctx, orderID, s.now())
	if err != nil {
		return storeError(span, "failed to complete order", err)
	}
	if !ok {
		return s.rejectTransition(ctx, span, orderID, "only TAKEN or IN_PROGRESS orders can be completed")
	}

	s.metrics.completed.Add(ctx, 1)
	s.logger.Info("order completed", zap.Int64("id", orderID), zap.Int64("actor_id", actorID))
	s.changed(ctx, orderID)
	return nil
}

// CancelOrder lets the order's dispatcher cancel an AVAILABLE order no loader
// has joined.
func (s *Service) CancelOrder(ctx context.Context, orderID, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.CancelOrder", actorAttrs(orderID, actorID))
	defer span.End()

	if err := s.authorize(ctx, span, orderID, actorID, ownerOnly); err != nil {
		return err
	}
	return s.cancel(ctx, span, orderID)
}

func (s *Service) cancel(ctx context.Context, span trace.Span, orderID int64) error {
	ok, err := s.orders.CancelUnassigned(ctx, orderID)
	if err != nil {
		return storeError(span, "failed to cancel order", err)
	}
	if !ok {
		return s.rejectTransition(ctx, span, orderID, "only AVAILABLE orders without workers can be cancelled")
	}

	s.metrics.cancelled.Add(ctx, 1)
	s.logger.Info("order cancelled", zap.Int64("id", orderID))
	s.changed(ctx, orderID)
	return nil
}

// RateOrder lets the order's dispatcher store a worker rating on a COMPLETED
// order, clamped to [1,5]. Rating again overwrites. The loader's own rating
// is left untouched.
func (s *Service) RateOrder(ctx context.Context, orderID, actorID int64, rating int) error {
	ctx, span := serviceTracer.Start(ctx, "OrderService.RateOrder", actorAttrs(orderID, actorID))
	defer span.End()

	if err := s.authorize(ctx, span, orderID, actorID, ownerOnly); err != nil {
		return err
	}
	rating = min(max(rating, entity.MinRating), entity.MaxRating)

	ok, err := s.orders.Rate(ctx, orderID, rating)
	if err != nil {
		return storeError(span, "failed to rate order", err)
	}
	if !ok {
		return s.rejectTransition(ctx, span, orderID, "only COMPLETED orders can be rated")
	}

	s.logger.Info("order rated", zap.Int64("id", orderID), zap.Int("rating", rating))
	s.changed(ctx, orderID)
	return nil
}

// actorRule says who besides the order's dispatcher may act on it.
type actorRule int

const (
	ownerOnly actorRule = iota
	ownerOrCrew
)

// authorize checks actorID against the order's dispatcher and, for
// ownerOrCrew, its joined loaders. The dispatcher and memberships never
// change once written, so the check holds through the CAS that follows.
func (s *Service) authorize(ctx context.Context, span trace.Span, orderID, actorID int64, rule actorRule) error {
	current, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return s.orderError(span, orderID, err)
	}
	if current.DispatcherID == actorID {
		return nil
	}
	if rule == ownerOrCrew {
		member, err := s.members.HasMember(ctx, orderID, actorID)
		if err != nil {
			return storeError(span, "failed to check order membership", err)
		}
		if member {
			return nil
		}
	}

	span.SetStatus(codes.Error, "forbidden")
	msg := "only the order's dispatcher may do this"
	if rule == ownerOrCrew {
		msg = "only the order's dispatcher or its loaders may do this"
	}
	return errorbank.Forbidden(msg,
		errorbank.WithDetail("order_id", orderID),
		errorbank.WithDetail("user_id", actorID))
}

func actorAttrs(orderID, actorID int64) trace.SpanStartOption {
	return trace.WithAttributes(attribute.Int64("order.id", orderID), attribute.Int64("actor.id", actorID))
}

// CancelStale cancels AVAILABLE orders scheduled before cutoff that no loader
// joined, returning how many it cancelled.
func (s *Service) CancelStale(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.CancelStale")
	defer span.End()

	stale, err := s.orders.ListStale(ctx, cutoff)
	if err != nil {
		return 0, storeError(span, "failed to list stale orders", err)
	}

	cancelled := 0
	for _, o := range stale {
		err := s.cancel(ctx, span, o.ID)
		switch {
		case err == nil:
			cancelled++
		case errorbank.IsKind(err, errorbank.KindInvalidTransition), errorbank.IsKind(err, errorbank.KindNotFound):
			s.logger.Debug("stale order skipped", zap.Int64("id", o.ID), zap.Error(err))
		default:
			return cancelled, err
		}
	}
	return cancelled, nil
}

// rejectTransition explains a failed compare-and-swap: the order is missing or
// its current status forbids the operation.
func (s *Service) rejectTransition(ctx context.Context, span trace.Span, orderID int64, msg string) error {
	current, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return s.orderError(span, orderID, err)
	}
	span.SetStatus(codes.Error, "invalid transition")
	return errorbank.InvalidTransition(msg,
		errorbank.WithDetail("order_id", orderID),
		errorbank.WithDetail("status", current.Status))
}

func alreadyTaken(orderID int64, msg string) error {
	return errorbank.AlreadyTaken(msg, errorbank.WithDetail("order_id", orderID))
}

func userError(span trace.Span, id int64, err error) error {
	if errors.Is(err, userrepo.ErrNotFound) {
		span.SetStatus(codes.Error, "not found")
		return errorbank.NotFound(fmt.Sprintf("user %d not found", id), errorbank.WithDetail("user_id", id))
	}
	return storeError(span, "failed to load user", err)
}
