package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/messaging"
	"github.com/Additional-Code/loadmatch/internal/worker"
)

// replayClient delivers a fixed batch and then blocks until cancelled.
type replayClient struct {
	messages []messaging.Message
}

func (c *replayClient) Publish(context.Context, messaging.Message) error { return nil }
func (c *replayClient) Topic() string                                   { return "orders.events" }
func (c *replayClient) Enabled() bool                                   { return true }

func (c *replayClient) Consume(ctx context.Context, handler messaging.Handler) error {
	for _, msg := range c.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// flakyClient fails its first Consume calls before behaving like replayClient.
type flakyClient struct {
	replayClient
	failures atomic.Int32
	calls    atomic.Int32
}

func (c *flakyClient) Consume(ctx context.Context, handler messaging.Handler) error {
	if c.calls.Add(1) <= c.failures.Load() {
		return errors.New("broker unreachable")
	}
	return c.replayClient.Consume(ctx, handler)
}

func event(eventType string) messaging.Message {
	return messaging.Message{
		Topic:   "orders.events",
		Value:   []byte(`{}`),
		Headers: map[string]string{messaging.HeaderEventType: eventType},
	}
}

func enabledConfig() config.Config {
	return config.Config{Messaging: config.Messaging{
		Enabled: true,
		Workers: config.Worker{Enabled: true, Concurrency: 1, PollInterval: 10 * time.Millisecond},
	}}
}

func newEngine(t *testing.T, p worker.Params) *worker.Engine {
	t.Helper()
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	engine, err := worker.NewEngine(p)
	require.NoError(t, err)
	return engine
}

// outcomes collects worker.messages as "event/outcome" -> count.
func outcomes(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "worker.messages" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				typ, _ := dp.Attributes.Value("event.type")
				outcome, _ := dp.Attributes.Value("outcome")
				got[typ.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	return got
}

func TestEngine_Dispatch(t *testing.T) {
	var seen []string
	engine := newEngine(t, worker.Params{
		Client: &replayClient{},
		Config: enabledConfig(),
		Registrations: []worker.HandlerRegistration{
			{EventType: "order.created", Handler: func(_ context.Context, msg messaging.Message) error {
				seen = append(seen, msg.EventType())
				return nil
			}},
			{EventType: "", Handler: func(context.Context, messaging.Message) error {
				return errors.New("should never run")
			}},
		},
	})

	t.Run("should route by event type", func(t *testing.T) {
		require.NoError(t, engine.Dispatch(context.Background(), event("order.created")))
		assert.Equal(t, []string{"order.created"}, seen)
	})

	t.Run("should drop unknown event types", func(t *testing.T) {
		require.NoError(t, engine.Dispatch(context.Background(), event("order.archived")))
		require.NoError(t, engine.Dispatch(context.Background(), messaging.Message{}))
		assert.Len(t, seen, 1)
	})
}

func TestEngine_Outcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	engine := newEngine(t, worker.Params{
		Client: &replayClient{},
		Config: enabledConfig(),
		Meter:  meter,
		Registrations: []worker.HandlerRegistration{
			{EventType: "order.created", Handler: func(context.Context, messaging.Message) error { return nil }},
			{EventType: "order.taken", Handler: func(context.Context, messaging.Message) error {
				return errors.New("push gateway down")
			}},
			{EventType: "order.cancelled", Handler: func(context.Context, messaging.Message) error {
				panic("nil chat")
			}},
		},
	})

	ctx := context.Background()
	require.NoError(t, engine.Dispatch(ctx, event("order.created")))
	require.NoError(t, engine.Dispatch(ctx, event("order.created")))
	require.EqualError(t, engine.Dispatch(ctx, event("order.taken")), "push gateway down")
	require.ErrorContains(t, engine.Dispatch(ctx, event("order.cancelled")), "panicked: nil chat")
	require.NoError(t, engine.Dispatch(ctx, event("order.archived")))

	assert.Equal(t, map[string]int64{
		"order.created/" + worker.OutcomeHandled:   2,
		"order.taken/" + worker.OutcomeFailed:      1,
		"order.cancelled/" + worker.OutcomeFailed:  1,
		"order.archived/" + worker.OutcomeUnrouted: 1,
	}, outcomes(t, reader))
}

func TestNewEngine_RejectsDuplicateHandlers(t *testing.T) {
	noop := func(context.Context, messaging.Message) error { return nil }
	_, err := worker.NewEngine(worker.Params{
		Client: &replayClient{},
		Logger: zap.NewNop(),
		Config: enabledConfig(),
		Registrations: []worker.HandlerRegistration{
			{EventType: "order.taken", Handler: noop},
			{EventType: "order.taken", Handler: noop},
		},
	})
	require.ErrorContains(t, err, `duplicate handler for "order.taken"`)
}

func TestEngine_StartStop(t *testing.T) {
	t.Run("should consume until stopped", func(t *testing.T) {
		got := make(chan string, 2)
		handler := func(_ context.Context, msg messaging.Message) error {
			got <- msg.EventType()
			return nil
		}
		engine := newEngine(t, worker.Params{
			Client: &replayClient{messages: []messaging.Message{event("order.created"), event("order.taken")}},
			Config: enabledConfig(),
			Registrations: []worker.HandlerRegistration{
				{EventType: "order.created", Handler: handler},
				{EventType: "order.taken", Handler: handler},
			},
		})

		require.NoError(t, engine.Start(context.Background()))
		for _, want := range []string{"order.created", "order.taken"} {
			select {
			case typ := <-got:
				assert.Equal(t, want, typ)
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for %s", want)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, engine.Stop(ctx))
	})

	t.Run("should restart a failed consumer", func(t *testing.T) {
		got := make(chan struct{}, 1)
		client := &flakyClient{replayClient: replayClient{messages: []messaging.Message{event("order.created")}}}
		client.failures.Store(2)
		engine := newEngine(t, worker.Params{
			Client: client,
			Config: enabledConfig(),
			Registrations: []worker.HandlerRegistration{
				{EventType: "order.created", Handler: func(context.Context, messaging.Message) error {
					got <- struct{}{}
					return nil
				}},
			},
		})

		require.NoError(t, engine.Start(context.Background()))
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("consumer never recovered")
		}
		assert.EqualValues(t, 3, client.calls.Load())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, engine.Stop(ctx))
	})

	t.Run("should stay idle when workers are disabled", func(t *testing.T) {
		cfg := enabledConfig()
		cfg.Messaging.Workers.Enabled = false
		engine := newEngine(t, worker.Params{Client: &replayClient{}, Config: cfg})

		require.NoError(t, engine.Start(context.Background()))
		assert.NoError(t, engine.Stop(context.Background()))
	})
}
