package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/messaging"
)

const (
	instrumentationName = "github.com/Additional-Code/loadmatch/worker"
	maxRetryDelay       = 30 * time.Second
)

var workerTracer = otel.Tracer(instrumentationName)

// Dispatch outcomes recorded on the worker.messages counter.
const (
	OutcomeHandled  = "handled"
	OutcomeFailed   = "failed"
	OutcomeUnrouted = "unrouted"
)

// HandlerRegistration binds an event type to its handler.
type HandlerRegistration struct {
	EventType string
	Handler   messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Meter         metric.Meter         `optional:"true"`
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine consumes the order event topic and routes each message to the
// handler registered for its event type.
type Engine struct {
	client   messaging.Client
	logger   *zap.Logger
	workers  config.Worker
	enabled  bool
	handlers map[string]messaging.Handler

	messages metric.Int64Counter
	duration metric.Float64Histogram

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds an Engine. Two handlers for one event type are a wiring
// mistake and fail construction.
func NewEngine(p Params) (*Engine, error) {
	handlers := make(map[string]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.EventType == "" || r.Handler == nil {
			p.Logger.Warn("ignoring incomplete handler registration", zap.String("event_type", r.EventType))
			continue
		}
		if _, dup := handlers[r.EventType]; dup {
			return nil, fmt.Errorf("worker: duplicate handler for %q", r.EventType)
		}
		handlers[r.EventType] = r.Handler
	}

	meter := p.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	messages, err := meter.Int64Counter("worker.messages",
		metric.WithDescription("Order events consumed, by event type and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("worker.handle.duration",
		metric.WithDescription("Time spent in an event handler"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Engine{
		client:   p.Client,
		logger:   p.Logger.With(zap.String("component", "worker")),
		workers:  p.Config.Messaging.Workers,
		enabled:  p.Config.Messaging.Enabled && p.Config.Messaging.Workers.Enabled,
		handlers: handlers,
		messages: messages,
		duration: duration,
	}, nil
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.Start,
			OnStop:  engine.Stop,
		})
	}),
)

// Start launches the configured number of consumers and returns at once.
func (e *Engine) Start(context.Context) error {
	switch {
	case !e.enabled:
		e.logger.Info("worker engine disabled")
		return nil
	case len(e.handlers) == 0:
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	n := max(e.workers.Concurrency, 1)
	runCtx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{}, n)
	for id := range n {
		go func() {
			defer func() { exited <- struct{}{} }()
			e.consume(runCtx, id)
		}()
	}

	e.cancel = cancel
	e.done = make(chan struct{})
	go func() {
		for range n {
			<-exited
		}
		close(e.done)
	}()

	e.logger.Info("worker engine started", zap.Int("workers", n), zap.String("topic", e.client.Topic()))
	return nil
}

// Stop cancels the consumers and waits for them or for ctx.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		e.logger.Info("worker engine stopped")
		return nil
	}
}

// Dispatch routes one message to the handler for its event type. Unknown
// event types are acknowledged and dropped. A panicking handler counts as a
// failure so the offset stays uncommitted.
func (e *Engine) Dispatch(ctx context.Context, msg messaging.Message) (err error) {
	eventType := msg.EventType()
	handler, ok := e.handlers[eventType]
	if !ok {
		e.record(ctx, eventType, OutcomeUnrouted)
		e.logger.Debug("no handler for event", zap.String("event_type", eventType), zap.Int64("offset", msg.Offset))
		return nil
	}

	ctx, span := workerTracer.Start(ctx, "Worker.Dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", eventType, r)
		}
		e.duration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(attribute.String("event.type", eventType)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			e.record(ctx, eventType, OutcomeFailed)
		} else {
			e.record(ctx, eventType, OutcomeHandled)
		}
		span.End()
	}()

	return handler(ctx, msg)
}

func (e *Engine) record(ctx context.Context, eventType, outcome string) {
	e.messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("outcome", outcome),
	))
}

// consume runs Consume until ctx ends, restarting it after failures with a
// doubling delay that starts at the configured poll interval.
func (e *Engine) consume(ctx context.Context, id int) {
	logger := e.logger.With(zap.Int("worker", id))
	delay := e.workers.PollInterval
	if delay <= 0 {
		delay = time.Second
	}

	for ctx.Err() == nil {
		err := e.client.Consume(ctx, e.Dispatch)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		}

		logger.Error("consumer failed; restarting", zap.Error(err), zap.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
