package response

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

// retryAfter is advertised on store_unavailable responses.
const retryAfter = 2

// Builder helps construct consistent HTTP responses.
type Builder struct {
	ctx    echo.Context
	status int
	data   any
	err    error
	meta   map[string]any
}

// New instantiates a Builder for the provided request context.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// WithStatus overrides the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

// WithData attaches a success payload.
func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

// WithError records an error to be rendered.
func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta appends auxiliary metadata to the response.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// Created is shorthand for a 201 carrying data.
func (b *Builder) Created(data any) error {
	return b.WithStatus(http.StatusCreated).WithData(data).Build()
}

// NoContent answers 204 without a body.
func (b *Builder) NoContent() error {
	return b.ctx.NoContent(http.StatusNoContent)
}

// Fail renders err.
func (b *Builder) Fail(err error) error {
	return b.WithError(err).Build()
}

// Build finalises and emits the HTTP response.
func (b *Builder) Build() error {
	if b.err != nil {
		return b.buildError()
	}
	return b.buildSuccess()
}

// envelope is the body shape shared by every JSON response.
type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *errorBody     `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type errorBody struct {
	Kind      errorbank.Kind `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (b *Builder) buildSuccess() error {
	return b.ctx.JSON(b.status, envelope{Success: true, Data: b.data, Meta: b.meta})
}

func (b *Builder) buildError() error {
	appErr := errorbank.From(b.err)
	status := b.status
	if status < http.StatusBadRequest {
		status = appErr.StatusCode()
	}
	if appErr.Retryable() {
		b.ctx.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(retryAfter))
	}
	return b.ctx.JSON(status, envelope{
		Meta: b.meta,
		Error: &errorBody{
			Kind:      appErr.Kind(),
			Message:   appErr.Message(),
			Retryable: appErr.Retryable(),
			Details:   appErr.Details(),
		},
	})
}
