package request

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

// PathID parses a positive int64 path parameter.
func PathID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errorbank.BadRequest("invalid "+name, errorbank.WithDetail(name, raw))
	}
	return id, nil
}

// QueryInt64 parses an optional int64 query parameter. Absent yields nil.
func QueryInt64(c echo.Context, name string) (*int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errorbank.BadRequest("invalid "+name, errorbank.WithDetail(name, raw))
	}
	return &v, nil
}

// Bind decodes the request body, reporting failures as bad requests.
func Bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	return nil
}
