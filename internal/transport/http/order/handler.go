package order

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/dto"
	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/request"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/response"
	service "github.com/Additional-Code/loadmatch/internal/service/order"
	"github.com/Additional-Code/loadmatch/internal/transport/http/middleware"
	"github.com/Additional-Code/loadmatch/internal/watch"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/loadmatch/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/watch", h.watch)
	g.GET("/:id", h.getByID)
	g.GET("/:id/workers", h.workers)
	g.POST("/:id/take", h.take)
	g.POST("/:id/start", h.transition("orders.start", h.svc.StartOrder))
	g.POST("/:id/complete", h.transition("orders.complete", h.svc.CompleteOrder))
	g.POST("/:id/cancel", h.transition("orders.cancel", h.svc.CancelOrder))
	g.POST("/:id/rate", h.rate)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	sess, err := middleware.Current(c)
	if err != nil {
		return b.Fail(err)
	}

	var payload dto.CreateOrderRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(
		attribute.Int64("dispatcher.id", sess.UserID),
	))
	defer span.End()

	id, err := h.svc.CreateOrder(ctx, sess.UserID, service.CreateInput{
		Address:          payload.Address,
		CargoDescription: payload.CargoDescription,
		Comment:          payload.Comment,
		DateTime:         payload.DateTime,
		PricePerHour:     payload.PricePerHour,
		EstimatedHours:   payload.EstimatedHours,
		RequiredWorkers:  payload.RequiredWorkers,
		MinWorkerRating:  payload.MinWorkerRating,
	})
	if err != nil {
		return b.Fail(err)
	}

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.Fail(err)
	}
	return b.Created(dto.FromOrder(order))
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	f, err := parseFilter(c)
	if err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list")
	defer span.End()

	orders, err := h.svc.List(ctx, f)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromOrders(orders)).WithMeta("count", len(orders)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := request.PathID(c, "id")
	if err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) workers(c echo.Context) error {
	b := response.New(c)

	id, err := request.PathID(c, "id")
	if err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.workers", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	rows, err := h.svc.Workers(ctx, id)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromOrderWorkers(rows)).Build()
}

func (h *Handler) take(c echo.Context) error {
	b := response.New(c)

	sess, err := middleware.Current(c)
	if err != nil {
		return b.Fail(err)
	}
	id, err := request.PathID(c, "id")
	if err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.take", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("loader.id", sess.UserID),
	))
	defer span.End()

	order, err := h.svc.TakeOrder(ctx, id, sess.UserID)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromOrder(order)).Build()
}

func (h *Handler) transition(spanName string, apply func(ctx context.Context, orderID, actorID int64) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		b := response.New(c)

		sess, err := middleware.Current(c)
		if err != nil {
			return b.Fail(err)
		}
		id, err := request.PathID(c, "id")
		if err != nil {
			return b.Fail(err)
		}

		ctx, span := httpTracer.Start(c.Request().Context(), spanName, trace.WithAttributes(
			attribute.Int64("order.id", id),
			attribute.Int64("actor.id", sess.UserID),
		))
		defer span.End()

		if err := apply(ctx, id, sess.UserID); err != nil {
			return b.Fail(err)
		}
		return h.render(ctx, b, id)
	}
}

func (h *Handler) rate(c echo.Context) error {
	b := response.New(c)

	sess, err := middleware.Current(c)
	if err != nil {
		return b.Fail(err)
	}
	id, err := request.PathID(c, "id")
	if err != nil {
		return b.Fail(err)
	}
	var payload dto.RateOrderRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.rate", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Int64("actor.id", sess.UserID),
		attribute.Int("rating", payload.Rating),
	))
	defer span.End()

	if err := h.svc.RateOrder(ctx, id, sess.UserID, payload.Rating); err != nil {
		return b.Fail(err)
	}
	return h.render(ctx, b, id)
}

func (h *Handler) render(ctx context.Context, b *response.Builder, id int64) error {
	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromOrder(order)).Build()
}

func parseFilter(c echo.Context) (watch.Filter, error) {
	var f watch.Filter

	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		status, err := entity.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			return f, errorbank.BadRequest("invalid status", errorbank.WithDetail("status", raw))
		}
		f.Status = &status
	}

	workerID, err := request.QueryInt64(c, "worker_id")
	if err != nil {
		return f, err
	}
	dispatcherID, err := request.QueryInt64(c, "dispatcher_id")
	if err != nil {
		return f, err
	}
	f.WorkerID = workerID
	f.DispatcherID = dispatcherID
	f.Query = strings.TrimSpace(c.QueryParam("q"))
	return f, nil
}
