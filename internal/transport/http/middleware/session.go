package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/loadmatch/internal/presentation/http/response"
	"github.com/Additional-Code/loadmatch/internal/session"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

const sessionKey = "loadmatch.session"

// Resolver looks a session token up.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*session.Session, error)
}

// Session resolves the token in header, when present, and stores the session
// on the request context. A present but unknown token is rejected with 401.
func Session(resolver Resolver, header string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := strings.TrimSpace(c.Request().Header.Get(header))
			if token == "" {
				return next(c)
			}
			sess, err := resolver.Resolve(c.Request().Context(), token)
			if err != nil {
				return response.New(c).Fail(err)
			}
			c.Set(sessionKey, sess)
			return next(c)
		}
	}
}

// Current returns the resolved session or Unauthorized.
func Current(c echo.Context) (*session.Session, error) {
	sess, ok := c.Get(sessionKey).(*session.Session)
	if !ok || sess == nil {
		return nil, errorbank.Unauthorized("session required")
	}
	return sess, nil
}
