package watch

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/entity"
)

// Filter selects the orders a live view shows. Query wins over the id
// filters, WorkerID over DispatcherID; Status narrows any of them.
type Filter struct {
	Status       *entity.Status
	WorkerID     *int64
	DispatcherID *int64
	Query        string
}

// Snapshot is one emission of a live view.
type Snapshot struct {
	Orders []entity.Order
	At     time.Time
}

// Loader reads the current result set for a filter.
type Loader func(ctx context.Context, f Filter) ([]entity.Order, error)

// Hub fans write signals out to live view subscribers.
type Hub struct {
	mu       sync.Mutex
	subs     map[uint64]chan struct{}
	next     uint64
	interval time.Duration
	logger   *zap.Logger
}

// Module provides the process-wide Hub.
var Module = fx.Provide(NewHub)

// NewHub builds a Hub polling at the configured watch interval.
func NewHub(cfg config.Config, logger *zap.Logger) *Hub {
	return newHub(cfg.Lifecycle.WatchPollInterval, logger)
}

func newHub(interval time.Duration, logger *zap.Logger) *Hub {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Hub{
		subs:     make(map[uint64]chan struct{}),
		interval: interval,
		logger:   logger,
	}
}

// Signal tells every subscriber that orders changed. It never blocks.
func (h *Hub) Signal() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of open live views.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribe emits the filter's result set now, after every Signal and on each
// poll tick, skipping emissions identical to the previous one. A slow reader
// only ever sees the newest snapshot. The channel closes when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, f Filter, load Loader) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	signal := make(chan struct{}, 1)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = signal
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(out)
		}()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		var (
			last    string
			emitted bool
		)
		emit := func() {
			orders, err := load(ctx, f)
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Warn("live view reload failed", zap.Error(err))
				}
				return
			}
			key := fingerprint(orders)
			if emitted && key == last {
				return
			}
			last, emitted = key, true
			replaceLatest(out, Snapshot{Orders: orders, At: time.Now().UTC()})
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
				emit()
			case <-ticker.C:
				emit()
			}
		}
	}()

	return out
}

// replaceLatest sends s, discarding an unread older snapshot. Only the
// subscriber goroutine sends on out.
func replaceLatest(out chan Snapshot, s Snapshot) {
	for {
		select {
		case out <- s:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}

func fingerprint(orders []entity.Order) string {
	var b strings.Builder
	for _, o := range orders {
		b.WriteString(strconv.FormatInt(o.ID, 10))
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(o.Version, 10))
		b.WriteByte(',')
	}
	return b.String()
}
