package user

import (
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/dto"
	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/request"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/response"
	service "github.com/Additional-Code/loadmatch/internal/service/user"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/loadmatch/transport/http/user")

// Module wires HTTP user handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// Handler exposes user endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a user Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/users")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.getByID)
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.CreateUserRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "users.create", trace.WithAttributes(attribute.String("user.role", payload.Role)))
	defer span.End()

	u, err := h.svc.Register(ctx, service.RegisterInput{
		Name:      payload.Name,
		Phone:     payload.Phone,
		Role:      strings.ToUpper(payload.Role),
		BirthDate: payload.BirthDate,
	})
	if err != nil {
		return b.Fail(err)
	}
	return b.Created(dto.FromUser(u))
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := request.PathID(c, "id")
	if err != nil {
		return b.Fail(err)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "users.getByID", trace.WithAttributes(attribute.Int64("user.id", id)))
	defer span.End()

	u, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromUser(u)).Build()
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	var role *entity.Role
	if raw := strings.TrimSpace(c.QueryParam("role")); raw != "" {
		r, err := entity.ParseRole(strings.ToUpper(raw))
		if err != nil {
			return b.Fail(errorbank.BadRequest("invalid role", errorbank.WithDetail("role", raw)))
		}
		role = &r
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "users.list")
	defer span.End()

	users, err := h.svc.List(ctx, role)
	if err != nil {
		return b.Fail(err)
	}
	out := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, dto.FromUser(&users[i]))
	}
	return b.WithData(out).Build()
}
