package assignment

import (
	"context"
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

var repoTracer = otel.Tracer("github.com/Additional-Code/loadmatch/repository/assignment")

// Repository records which loaders joined which orders. Rows are insert-only.
type Repository struct {
	writer bun.IDB
	reader bun.IDB
	now    func() time.Time
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a repository whose reads and writes go through tx.
func (r *Repository) WithTx(tx bun.IDB) *Repository {
	return &Repository{writer: tx, reader: tx, now: r.now}
}

// Add records that workerID joined orderID. Adding an existing pair is a no-op
// and reports false.
func (r *Repository) Add(ctx context.Context, orderID, workerID int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "AssignmentRepository.Add", trace.WithAttributes(attribute.Int64("order.id", orderID), attribute.Int64("worker.id", workerID)))
	defer span.End()

	row := &entity.OrderWorker{
		OrderID:  orderID,
		WorkerID: workerID,
		TakenAt:  r.now(),
	}
	q := r.writer.NewInsert().Model(row)
	if r.writer.Dialect().Name() == dialect.MySQL {
		q = q.Ignore()
	} else {
		q = q.On("CONFLICT (order_id, worker_id) DO NOTHING")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		fail(span, err, "insert failed")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		fail(span, err, "rows affected")
		return false, err
	}
	return n > 0, nil
}

// Count returns how many loaders joined the order.
func (r *Repository) Count(ctx context.Context, orderID int64) (int, error) {
	ctx, span := repoTracer.Start(ctx, "AssignmentRepository.Count", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	n, err := r.reader.NewSelect().
		Model((*entity.OrderWorker)(nil)).
		Where("ow.order_id = ?", orderID).
		Count(ctx)
	if err != nil {
		fail(span, err, "count failed")
		return 0, err
	}
	return n, nil
}

// Members returns the order's assignments in join order.
func (r *Repository) Members(ctx context.Context, orderID int64) ([]entity.OrderWorker, error) {
	ctx, span := repoTracer.Start(ctx, "AssignmentRepository.Members", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	rows := make([]entity.OrderWorker, 0)
	err := r.reader.NewSelect().
		Model(&rows).
		Where("ow.order_id = ?", orderID).
		OrderExpr("ow.taken_at ASC, ow.worker_id ASC").
		Scan(ctx)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return rows, nil
}

// MemberIDs returns the ids of loaders on the order, first joiner first.
func (r *Repository) MemberIDs(ctx context.Context, orderID int64) ([]int64, error) {
	rows, err := r.Members(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.WorkerID)
	}
	return ids, nil
}

// HasMember reports whether workerID already joined orderID.
func (r *Repository) HasMember(ctx context.Context, orderID, workerID int64) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "AssignmentRepository.HasMember", trace.WithAttributes(attribute.Int64("order.id", orderID), attribute.Int64("worker.id", workerID)))
	defer span.End()

	ok, err := r.reader.NewSelect().
		Model((*entity.OrderWorker)(nil)).
		Where("ow.order_id = ?", orderID).
		Where("ow.worker_id = ?", workerID).
		Exists(ctx)
	if err != nil {
		fail(span, err, "exists failed")
		return false, err
	}
	return ok, nil
}

// OrdersForWorker returns the ids of every order the loader joined.
func (r *Repository) OrdersForWorker(ctx context.Context, workerID int64) ([]int64, error) {
	ctx, span := repoTracer.Start(ctx, "AssignmentRepository.OrdersForWorker", trace.WithAttributes(attribute.Int64("worker.id", workerID)))
	defer span.End()

	ids := make([]int64, 0)
	err := r.reader.NewSelect().
		Model((*entity.OrderWorker)(nil)).
		ColumnExpr("ow.order_id").
		Where("ow.worker_id = ?", workerID).
		OrderExpr("ow.order_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		fail(span, err, "select failed")
		return nil, err
	}
	return ids, nil
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
