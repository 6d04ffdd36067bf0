package stats

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/dto"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/request"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/response"
	service "github.com/Additional-Code/loadmatch/internal/service/stats"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/loadmatch/transport/http/stats")

// Module wires HTTP statistics handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// Handler exposes per-user aggregates.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a stats Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/stats")
	g.GET("/workers/:id", h.worker)
	g.GET("/dispatchers/:id", h.dispatcher)
}

func (h *Handler) worker(c echo.Context) error {
	b := response.New(c)

	id, err := request.PathID(c, "id")
	if err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "stats.worker", trace.WithAttributes(attribute.Int64("worker.id", id)))
	defer span.End()

	summary, err := h.svc.WorkerSummary(ctx, id)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromWorkerSummary(summary)).Build()
}

func (h *Handler) dispatcher(c echo.Context) error {
	b := response.New(c)

	id, err := request.PathID(c, "id")
	if err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "stats.dispatcher", trace.WithAttributes(attribute.Int64("dispatcher.id", id)))
	defer span.End()

	summary, err := h.svc.DispatcherSummary(ctx, id)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromDispatcherSummary(summary)).Build()
}
