package order

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/messaging"
	"github.com/Additional-Code/loadmatch/internal/notify"
	"github.com/Additional-Code/loadmatch/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/loadmatch/worker/order")

// Audiences a push can target.
const (
	AudienceLoaders     = "loaders"
	AudienceDispatchers = "dispatchers"
)

// Push is one device notification.
type Push struct {
	Audience string
	Title    string
	Body     string
}

// Sender delivers pushes to devices.
type Sender interface {
	Send(ctx context.Context, p Push) error
}

// LogSender writes pushes to the log instead of a device gateway.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, p Push) error {
	s.logger.Info("push", zap.String("audience", p.Audience), zap.String("title", p.Title), zap.String("body", p.Body))
	return nil
}

// Module registers order event handlers and the default push sender.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(NewLogSender, fx.As(new(Sender))),
		fx.Annotate(
			NewOrderCreatedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewOrderTakenHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderCreatedHandler tells loaders about new orders.
func NewOrderCreatedHandler(sender Sender, logger *zap.Logger) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		EventType: notify.EventOrderCreated,
		Handler: handle(sender, logger, func(value []byte) (Push, error) {
			var event notify.OrderCreated
			if err := json.Unmarshal(value, &event); err != nil {
				return Push{}, err
			}
			return Push{
				Audience: AudienceLoaders,
				Title:    "New order",
				Body:     fmt.Sprintf("%s, %s per hour", event.Address, event.PricePerHour.StringFixed(2)),
			}, nil
		}),
	}
}

// NewOrderTakenHandler tells dispatchers a loader joined their order.
func NewOrderTakenHandler(sender Sender, logger *zap.Logger) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		EventType: notify.EventOrderTaken,
		Handler: handle(sender, logger, func(value []byte) (Push, error) {
			var event notify.OrderTaken
			if err := json.Unmarshal(value, &event); err != nil {
				return Push{}, err
			}
			return Push{
				Audience: AudienceDispatchers,
				Title:    "Order taken",
				Body:     fmt.Sprintf("%s taken by %s", event.Address, event.LoaderName),
			}, nil
		}),
	}
}

func handle(sender Sender, logger *zap.Logger, render func([]byte) (Push, error)) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.push", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("event.type", msg.EventType()),
		))
		defer span.End()

		push, err := render(msg.Value)
		if err != nil {
			// undecodable events are dropped so they do not block the partition
			logger.Error("failed to decode order event", zap.String("event_type", msg.EventType()), zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}

		if err := sender.Send(ctx, push); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "send failed")
			return err
		}
		return nil
	}
}
