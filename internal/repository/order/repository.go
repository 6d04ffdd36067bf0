package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/loadmatch/internal/database"
	"github.com/Additional-Code/loadmatch/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/loadmatch/repository/order")

var (
	// ErrNotFound is returned when an order is missing.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidOrder is returned when an order violates a stored invariant.
	ErrInvalidOrder = errors.New("invalid order")
)

const newestFirst = "o.date_time DESC, o.id DESC"

// Repository encapsulates read/write access for orders.
type Repository struct {
	db     *bun.DB
	writer bun.IDB
	reader bun.IDB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		db:     conns.Writer,
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// WithTx returns a repository whose reads and writes go through tx.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{db: r.db, writer: tx, reader: tx}
}

// RunInTx runs fn in a writer transaction, committing when fn returns nil.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, fn)
}

// GetByID fetches an order by primary key using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).Where("o.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return order, nil
}

// Lock reads an order and, inside a transaction, holds its row lock until the
// transaction ends. SQLite has no row locks: its write transactions already
// hold the database lock from BEGIN.
func (r *Repository) Lock(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Lock", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	q := r.writer.NewSelect().Model(order).Where("o.id = ?", id)
	if r.writer.Dialect().Name() != dialect.SQLite {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return order, nil
}

// ListByStatus returns orders in the given status, newest scheduled first.
func (r *Repository) ListByStatus(ctx context.Context, status entity.Status) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListByStatus", trace.WithAttributes(attribute.String("order.status", status.String())))
	defer span.End()

	orders := make([]entity.Order, 0)
	err := r.reader.NewSelect().
		Model(&orders).
		Where("o.status = ?", status).
		OrderExpr(newestFirst).
		Scan(ctx)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// ListByWorker returns orders the loader has joined, optionally narrowed to
// the given statuses.
func (r *Repository) ListByWorker(ctx context.Context, workerID int64, statuses ...entity.Status) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListByWorker", trace.WithAttributes(attribute.Int64("worker.id", workerID)))
	defer span.End()

	orders := make([]entity.Order, 0)
	q := r.reader.NewSelect().
		Model(&orders).
		Where("o.id IN (?)", r.joinedBy(workerID))
	if len(statuses) > 0 {
		q = q.Where("o.status IN (?)", bun.In(statuses))
	}
	if err := q.OrderExpr(newestFirst).Scan(ctx); err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// CountByWorker counts orders in status that the loader has joined.
func (r *Repository) CountByWorker(ctx context.Context, workerID int64, status entity.Status) (int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CountByWorker", trace.WithAttributes(attribute.Int64("worker.id", workerID), attribute.String("order.status", status.String())))
	defer span.End()

	n, err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		Where("o.id IN (?)", r.joinedBy(workerID)).
		Where("o.status = ?", status).
		Count(ctx)
	if err != nil {
		fail(span, err, "count failed")
		return 0, err
	}
	return n, nil
}

// CountByDispatcher counts a dispatcher's orders in status.
func (r *Repository) CountByDispatcher(ctx context.Context, dispatcherID int64, status entity.Status) (int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CountByDispatcher", trace.WithAttributes(attribute.Int64("dispatcher.id", dispatcherID), attribute.String("order.status", status.String())))
	defer span.End()

	n, err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		Where("o.dispatcher_id = ?", dispatcherID).
		Where("o.status = ?", status).
		Count(ctx)
	if err != nil {
		fail(span, err, "count failed")
		return 0, err
	}
	return n, nil
}

// ListByDispatcher returns every order a dispatcher created.
func (r *Repository) ListByDispatcher(ctx context.Context, dispatcherID int64) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListByDispatcher", trace.WithAttributes(attribute.Int64("dispatcher.id", dispatcherID)))
	defer span.End()

	orders := make([]entity.Order, 0)
	err := r.reader.NewSelect().
		Model(&orders).
		Where("o.dispatcher_id = ?", dispatcherID).
		OrderExpr(newestFirst).
		Scan(ctx)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// Search matches text case-insensitively against address or cargo description.
// A nil status searches every status.
func (r *Repository) Search(ctx context.Context, text string, status *entity.Status) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Search", trace.WithAttributes(attribute.String("search.text", text)))
	defer span.End()

	pattern := "%" + strings.ToLower(text) + "%"

	orders := make([]entity.Order, 0)
	q := r.reader.NewSelect().
		Model(&orders).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(o.address) LIKE ?", pattern).
				WhereOr("LOWER(o.cargo_description) LIKE ?", pattern)
		})
	if status != nil {
		q = q.Where("o.status = ?", *status)
	}
	if err := q.OrderExpr(newestFirst).Scan(ctx); err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// ListStale returns AVAILABLE orders scheduled before cutoff.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time) ([]entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.ListStale", trace.WithAttributes(attribute.String("cutoff", cutoff.Format(time.RFC3339))))
	defer span.End()

	orders := make([]entity.Order, 0)
	err := r.reader.NewSelect().
		Model(&orders).
		Where("o.status = ?", entity.StatusAvailable).
		Where("o.date_time < ?", cutoff.UTC()).
		OrderExpr("o.date_time ASC, o.id ASC").
		Scan(ctx)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return orders, nil
}

// Insert persists a new order and returns its id.
func (r *Repository) Insert(ctx context.Context, order *entity.Order) (int64, error) {
	if order == nil {
		return 0, fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if err := entity.CheckPrice(order.PricePerHour); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if order.EstimatedHours <= 0 {
		return 0, fmt.Errorf("%w: estimated_hours must be positive", ErrInvalidOrder)
	}
	if order.RequiredWorkers <= 0 {
		return 0, fmt.Errorf("%w: required_workers must be at least 1", ErrInvalidOrder)
	}

	ctx, span := repoTracer.Start(ctx, "OrderRepository.Insert", trace.WithAttributes(attribute.String("order.address", order.Address)))
	defer span.End()

	if order.Status == "" {
		order.Status = entity.StatusAvailable
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Version = 1

	if _, err := r.writer.NewInsert().Model(order).Exec(ctx); err != nil {
		fail(span, err, "insert failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID))
	return order.ID, nil
}

// UpdateStatus overwrites the status unconditionally.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status entity.Status) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.UpdateStatus", trace.WithAttributes(attribute.Int64("order.id", id), attribute.String("order.status", status.String())))
	defer span.End()

	return r.mustUpdate(ctx, span, r.update(id).Set("status = ?", status))
}

// AssignWorker sets the primary worker unconditionally.
func (r *Repository) AssignWorker(ctx context.Context, id, workerID int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.AssignWorker", trace.WithAttributes(attribute.Int64("order.id", id), attribute.Int64("worker.id", workerID)))
	defer span.End()

	return r.mustUpdate(ctx, span, r.update(id).Set("worker_id = ?", workerID))
}

// MarkCompleted sets COMPLETED and the completion instant in one statement.
func (r *Repository) MarkCompleted(ctx context.Context, id int64, at time.Time) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.MarkCompleted", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	return r.mustUpdate(ctx, span, r.update(id).
		Set("status = ?", entity.StatusCompleted).
		Set("completed_at = ?", at.UTC()))
}

// SetRating stores the worker rating unconditionally.
func (r *Repository) SetRating(ctx context.Context, id int64, rating int) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.SetRating", trace.WithAttributes(attribute.Int64("order.id", id), attribute.Int("order.rating", rating)))
	defer span.End()

	return r.mustUpdate(ctx, span, r.update(id).Set("worker_rating = ?", rating))
}

// TransitionStatus moves the order to `to` only while its status is one of from.
func (r *Repository) TransitionStatus(ctx context.Context, id int64, from []entity.Status, to entity.Status) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.TransitionStatus", trace.WithAttributes(attribute.Int64("order.id", id), attribute.String("order.status", to.String())))
	defer span.End()

	return r.swap(ctx, span, r.update(id).
		Set("status = ?", to).
		Where("status IN (?)", bun.In(from)))
}

// Claim moves an AVAILABLE order to TAKEN with workerID as its primary worker.
func (r *Repository) Claim(ctx context.Context, id, workerID int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Claim", trace.WithAttributes(attribute.Int64("order.id", id), attribute.Int64("worker.id", workerID)))
	defer span.End()

	return r.swap(ctx, span, r.update(id).
		Set("status = ?", entity.StatusTaken).
		Set("worker_id = ?", workerID).
		Where("status = ?", entity.StatusAvailable))
}

// Touch bumps the version of an AVAILABLE order. Inside a transaction it takes
// the row write lock so concurrent joins queue behind it.
func (r *Repository) Touch(ctx context.Context, id int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Touch", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	return r.swap(ctx, span, r.update(id).Where("status = ?", entity.StatusAvailable))
}

// Complete moves an active order to COMPLETED stamped with at.
func (r *Repository) Complete(ctx context.Context, id int64, at time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Complete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	return r.swap(ctx, span, r.update(id).
		Set("status = ?", entity.StatusCompleted).
		Set("completed_at = ?", at.UTC()).
		Where("status IN (?)", bun.In([]entity.Status{entity.StatusTaken, entity.StatusInProgress})))
}

// CancelUnassigned cancels an AVAILABLE order that no loader has joined.
func (r *Repository) CancelUnassigned(ctx context.Context, id int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CancelUnassigned", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	joined := r.writer.NewSelect().
		Model((*entity.OrderWorker)(nil)).
		ColumnExpr("1").
		Where("ow.order_id = ?", id)

	return r.swap(ctx, span, r.update(id).
		Set("status = ?", entity.StatusCancelled).
		Where("status = ?", entity.StatusAvailable).
		Where("NOT EXISTS (?)", joined))
}

// Rate stores the worker rating only while the order is COMPLETED.
func (r *Repository) Rate(ctx context.Context, id int64, rating int) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Rate", trace.WithAttributes(attribute.Int64("order.id", id), attribute.Int("order.rating", rating)))
	defer span.End()

	return r.swap(ctx, span, r.update(id).
		Set("worker_rating = ?", rating).
		Where("status = ?", entity.StatusCompleted))
}

func (r *Repository) joinedBy(workerID int64) *bun.SelectQuery {
	return r.reader.NewSelect().
		Model((*entity.OrderWorker)(nil)).
		ColumnExpr("ow.order_id").
		Where("ow.worker_id = ?", workerID)
}

func (r *Repository) update(id int64) *bun.UpdateQuery {
	return r.writer.NewUpdate().
		Table("orders").
		Set("version = version + 1").
		Where("id = ?", id)
}

func (r *Repository) swap(ctx context.Context, span trace.Span, q *bun.UpdateQuery) (bool, error) {
	res, err := q.Exec(ctx)
	if err != nil {
		fail(span, err, "update failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		fail(span, err, "rows affected")
		return false, err
	}
	span.SetAttributes(attribute.Bool("order.swapped", n == 1))
	return n == 1, nil
}

func (r *Repository) mustUpdate(ctx context.Context, span trace.Span, q *bun.UpdateQuery) error {
	ok, err := r.swap(ctx, span, q)
	if err != nil {
		return err
	}
	if !ok {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	return nil
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
