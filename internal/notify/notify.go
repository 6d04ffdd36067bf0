package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/messaging"
)

var notifyTracer = otel.Tracer("github.com/Additional-Code/loadmatch/notify")

// Event types carried in the messaging.HeaderEventType header.
const (
	EventOrderCreated = "order.created"
	EventOrderTaken   = "order.taken"
)

const (
	publishTimeout = 5 * time.Second
	queueSize      = 256
)

// Notifier announces lifecycle events to users. Delivery is best effort:
// implementations swallow and log their own failures.
type Notifier interface {
	NotifyNewOrder(ctx context.Context, address string, price decimal.Decimal)
	NotifyOrderTaken(ctx context.Context, address, loaderName string)
}

// OrderCreated is published when a dispatcher posts an order.
type OrderCreated struct {
	Address      string          `json:"address"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// OrderTaken is published when a loader joins an order.
type OrderTaken struct {
	Address    string    `json:"address"`
	LoaderName string    `json:"loader_name"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Client    messaging.Client
	Config    config.Config
	Logger    *zap.Logger
}

// Module provides the Notifier chosen by configuration.
var Module = fx.Provide(New)

// New returns a bus publisher when notifications and messaging are enabled,
// otherwise a notifier that only logs.
func New(p Params) Notifier {
	if !p.Config.Notify.Enabled || p.Client == nil || !p.Client.Enabled() {
		p.Logger.Info("order notifications go to the log only")
		return NewLogNotifier(p.Logger)
	}

	pub := NewPublisher(p.Client, p.Logger)
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				pub.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				pub.Stop(ctx)
				return nil
			},
		})
	}
	return pub
}

// Publisher sends order events through the message bus from a background
// goroutine. Notify calls only enqueue; a full queue drops the event.
type Publisher struct {
	client messaging.Client
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan outbound
	done   chan struct{}
}

type outbound struct {
	ctx       context.Context
	eventType string
	address   string
	event     any
}

// NewPublisher builds a Publisher; call Start to begin delivery.
func NewPublisher(client messaging.Client, logger *zap.Logger) *Publisher {
	return newPublisher(client, logger, queueSize)
}

func newPublisher(client messaging.Client, logger *zap.Logger, size int) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		queue:  make(chan outbound, size),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (p *Publisher) Start() {
	go func() {
		defer close(p.done)
		for out := range p.queue {
			p.publish(out)
		}
	}()
}

// Stop refuses new events and waits for queued ones to go out or for ctx to
// end. Start must have been called.
func (p *Publisher) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.logger.Warn("order events left undelivered", zap.Int("pending", len(p.queue)))
	}
}

func (p *Publisher) NotifyNewOrder(ctx context.Context, address string, price decimal.Decimal) {
	p.enqueue(ctx, EventOrderCreated, address, OrderCreated{
		Address:      address,
		PricePerHour: price,
		OccurredAt:   p.now(),
	})
}

func (p *Publisher) NotifyOrderTaken(ctx context.Context, address, loaderName string) {
	p.enqueue(ctx, EventOrderTaken, address, OrderTaken{
		Address:    address,
		LoaderName: loaderName,
		OccurredAt: p.now(),
	})
}

func (p *Publisher) enqueue(ctx context.Context, eventType, address string, event any) {
	out := outbound{
		// the caller's request may already be finished
		ctx:       context.WithoutCancel(ctx),
		eventType: eventType,
		address:   address,
		event:     event,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("order event dropped", zap.String("type", eventType), zap.String("reason", "publisher stopped"))
		return
	}
	select {
	case p.queue <- out:
	default:
		p.logger.Warn("order event dropped", zap.String("type", eventType), zap.String("reason", "queue full"))
	}
}

func (p *Publisher) publish(out outbound) {
	ctx, cancel := context.WithTimeout(out.ctx, publishTimeout)
	defer cancel()

	ctx, span := notifyTracer.Start(ctx, "Notify.Publish", trace.WithAttributes(
		attribute.String("event.type", out.eventType),
		attribute.String("messaging.topic", p.client.Topic()),
	))
	defer span.End()

	payload, err := json.Marshal(out.event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		p.logger.Error("marshal order event", zap.String("type", out.eventType), zap.Error(err))
		return
	}

	err = p.client.Publish(ctx, messaging.Message{
		Key:     []byte(out.address),
		Value:   payload,
		Headers: map[string]string{messaging.HeaderEventType: out.eventType},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.logger.Warn("publish order event", zap.String("type", out.eventType), zap.Error(err))
	}
}

// LogNotifier writes notifications to the service log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyNewOrder(_ context.Context, address string, price decimal.Decimal) {
	n.logger.Info("new order", zap.String("address", address), zap.String("price_per_hour", price.StringFixed(2)))
}

func (n *LogNotifier) NotifyOrderTaken(_ context.Context, address, loaderName string) {
	n.logger.Info("order taken", zap.String("address", address), zap.String("loader", loaderName))
}
