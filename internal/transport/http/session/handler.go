package session

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/dto"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/request"
	"github.com/Additional-Code/loadmatch/internal/presentation/http/response"
	"github.com/Additional-Code/loadmatch/internal/session"
	"github.com/Additional-Code/loadmatch/internal/transport/http/middleware"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

// Module wires HTTP session handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// Handler lets a device pick, inspect and drop its acting user.
type Handler struct {
	store *session.Store
}

// NewHandler constructs a session Handler.
func NewHandler(store *session.Store) *Handler {
	return &Handler{store: store}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/sessions")
	g.POST("", h.start)
	g.GET("/current", h.current)
	g.PUT("/current/preferences", h.preferences)
	g.DELETE("/current", h.end)
}

func (h *Handler) start(c echo.Context) error {
	b := response.New(c)

	var payload dto.StartSessionRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.Fail(err)
	}
	if payload.UserID <= 0 {
		return b.Fail(errorbank.BadRequest("user_id is required"))
	}

	sess, err := h.store.Start(c.Request().Context(), payload.UserID)
	if err != nil {
		return b.Fail(err)
	}
	return b.Created(dto.FromSession(sess, true))
}

func (h *Handler) current(c echo.Context) error {
	b := response.New(c)

	sess, err := middleware.Current(c)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromSession(sess, false)).Build()
}

func (h *Handler) preferences(c echo.Context) error {
	b := response.New(c)

	sess, err := middleware.Current(c)
	if err != nil {
		return b.Fail(err)
	}
	var payload dto.PreferencesRequest
	if err := request.Bind(c, &payload); err != nil {
		return b.Fail(err)
	}

	updated, err := h.store.SetPreferences(c.Request().Context(), sess.Token, payload.Preferences)
	if err != nil {
		return b.Fail(err)
	}
	return b.WithData(dto.FromSession(updated, false)).Build()
}

func (h *Handler) end(c echo.Context) error {
	b := response.New(c)

	sess, err := middleware.Current(c)
	if err != nil {
		return b.Fail(err)
	}
	if err := h.store.End(c.Request().Context(), sess.Token); err != nil {
		return b.Fail(err)
	}
	return b.NoContent()
}
