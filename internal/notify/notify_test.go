package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/messaging"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Publish(ctx context.Context, msg messaging.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockClient) Consume(ctx context.Context, handler messaging.Handler) error {
	return m.Called(ctx, handler).Error(0)
}

func (m *mockClient) Topic() string { return "orders.events" }

func (m *mockClient) Enabled() bool { return m.Called().Bool(0) }

// flush stops pub and waits for its queue to drain.
func flush(t *testing.T, pub *Publisher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pub.Stop(ctx)
	require.NoError(t, ctx.Err(), "publisher did not drain")
}

func TestPublisher(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("should publish order created with event header", func(t *testing.T) {
		client := new(mockClient)
		var sent messaging.Message
		client.On("Publish", mock.Anything, mock.AnythingOfType("messaging.Message")).
			Run(func(args mock.Arguments) { sent = args.Get(1).(messaging.Message) }).
			Return(nil).Once()

		pub := NewPublisher(client, zap.NewNop())
		pub.now = func() time.Time { return fixed }
		pub.Start()
		pub.NotifyNewOrder(context.Background(), "1 Dock Street", decimal.RequireFromString("150.50"))
		flush(t, pub)

		client.AssertExpectations(t)
		assert.Equal(t, EventOrderCreated, sent.EventType())
		assert.Equal(t, []byte("1 Dock Street"), sent.Key)

		var event OrderCreated
		require.NoError(t, json.Unmarshal(sent.Value, &event))
		assert.Equal(t, "1 Dock Street", event.Address)
		assert.True(t, decimal.RequireFromString("150.5").Equal(event.PricePerHour))
		assert.True(t, fixed.Equal(event.OccurredAt))
	})

	t.Run("should swallow publish failures", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		client := new(mockClient)
		client.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

		pub := NewPublisher(client, zap.New(core))
		pub.Start()
		pub.NotifyOrderTaken(context.Background(), "Quay 4", "Lena")
		flush(t, pub)

		client.AssertExpectations(t)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "publish order event", logs.All()[0].Message)
	})

	t.Run("should publish even after the caller context ends", func(t *testing.T) {
		client := new(mockClient)
		client.On("Publish", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
			Return(nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		pub := NewPublisher(client, zap.NewNop())
		pub.Start()
		pub.NotifyOrderTaken(ctx, "Quay 4", "Lena")
		flush(t, pub)

		client.AssertExpectations(t)
	})

	t.Run("should return before a stalled broker answers", func(t *testing.T) {
		release := make(chan struct{})
		client := new(mockClient)
		client.On("Publish", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(nil).Twice()

		pub := NewPublisher(client, zap.NewNop())
		pub.Start()

		returned := make(chan struct{})
		go func() {
			pub.NotifyNewOrder(context.Background(), "1 Dock Street", decimal.NewFromInt(100))
			pub.NotifyOrderTaken(context.Background(), "1 Dock Street", "Lena")
			close(returned)
		}()
		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("notify blocked on the broker")
		}

		close(release)
		flush(t, pub)
		client.AssertExpectations(t)
	})

	t.Run("should drop events when the queue is full", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		client := new(mockClient)
		client.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

		pub := newPublisher(client, zap.New(core), 1)
		pub.NotifyOrderTaken(context.Background(), "Quay 4", "Lena")
		pub.NotifyOrderTaken(context.Background(), "Quay 4", "Ivan")
		pub.Start()
		flush(t, pub)

		client.AssertExpectations(t)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "order event dropped", logs.All()[0].Message)
		assert.Equal(t, "queue full", logs.All()[0].ContextMap()["reason"])
	})

	t.Run("should drop events after stop", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		client := new(mockClient)

		pub := NewPublisher(client, zap.New(core))
		pub.Start()
		flush(t, pub)
		pub.NotifyOrderTaken(context.Background(), "Quay 4", "Lena")

		client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "publisher stopped", logs.All()[0].ContextMap()["reason"])
	})
}

func TestNew(t *testing.T) {
	t.Run("should log only when messaging is disabled", func(t *testing.T) {
		client := new(mockClient)
		client.On("Enabled").Return(false)

		n := New(Params{Client: client, Config: config.Config{Notify: config.Notify{Enabled: true}}, Logger: zap.NewNop()})
		assert.IsType(t, &LogNotifier{}, n)
	})

	t.Run("should log only when notifications are disabled", func(t *testing.T) {
		n := New(Params{Client: new(mockClient), Config: config.Config{}, Logger: zap.NewNop()})
		assert.IsType(t, &LogNotifier{}, n)
	})

	t.Run("should publish when both are enabled", func(t *testing.T) {
		client := new(mockClient)
		client.On("Enabled").Return(true)

		lc := fxtest.NewLifecycle(t)
		n := New(Params{Lifecycle: lc, Client: client, Config: config.Config{Notify: config.Notify{Enabled: true}}, Logger: zap.NewNop()})
		assert.IsType(t, &Publisher{}, n)

		client.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
		lc.RequireStart()
		n.NotifyOrderTaken(context.Background(), "Quay 4", "Lena")
		lc.RequireStop()
		client.AssertExpectations(t)
	})
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	n.NotifyNewOrder(context.Background(), "Mill Road", decimal.NewFromInt(90))
	n.NotifyOrderTaken(context.Background(), "Mill Road", "Ivan")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "90.00", logs.All()[0].ContextMap()["price_per_hour"])
	assert.Equal(t, "Ivan", logs.All()[1].ContextMap()["loader"])
}
