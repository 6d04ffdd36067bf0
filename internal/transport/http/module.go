package http

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/session"
	"github.com/Additional-Code/loadmatch/internal/transport/http/middleware"
	ordertransport "github.com/Additional-Code/loadmatch/internal/transport/http/order"
	sessiontransport "github.com/Additional-Code/loadmatch/internal/transport/http/session"
	statstransport "github.com/Additional-Code/loadmatch/internal/transport/http/stats"
	usertransport "github.com/Additional-Code/loadmatch/internal/transport/http/user"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	fx.Invoke(func(e *echo.Echo, store *session.Store, cfg config.Config) {
		e.Use(middleware.Session(store, cfg.Session.Header))
	}),
	usertransport.Module,
	sessiontransport.Module,
	ordertransport.Module,
	statstransport.Module,
)
