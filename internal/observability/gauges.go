package observability

import (
	"context"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/database"
	"github.com/Additional-Code/loadmatch/internal/watch"
)

const instrumentationName = "github.com/Additional-Code/loadmatch/observability"

// GaugeParams collects what the runtime gauges observe.
type GaugeParams struct {
	fx.In

	Manager *Manager
	Conns   *database.Connections
	Hub     *watch.Hub `optional:"true"`
}

// RegisterGauges reports connection pool usage per role and the number of
// open live views.
func RegisterGauges(p GaugeParams) error {
	if !p.Manager.MetricsEnabled() {
		return nil
	}
	meter := p.Manager.meterProvider.Meter(instrumentationName)

	open, err := meter.Int64ObservableGauge("db.pool.open_connections",
		metric.WithDescription("Open connections in the pool"))
	if err != nil {
		return err
	}
	inUse, err := meter.Int64ObservableGauge("db.pool.in_use",
		metric.WithDescription("Connections currently executing a query"))
	if err != nil {
		return err
	}
	waits, err := meter.Int64ObservableGauge("db.pool.wait_count",
		metric.WithDescription("Total waits for a free connection"))
	if err != nil {
		return err
	}
	subscribers, err := meter.Int64ObservableGauge("watch.subscribers",
		metric.WithDescription("Open live order views"))
	if err != nil {
		return err
	}

	pools := map[string]*bun.DB{"writer": p.Conns.Writer}
	if p.Conns.Reader != p.Conns.Writer {
		pools["reader"] = p.Conns.Reader
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for role, db := range pools {
			stats := db.Stats()
			attrs := metric.WithAttributes(attribute.String("db.role", role))
			o.ObserveInt64(open, int64(stats.OpenConnections), attrs)
			o.ObserveInt64(inUse, int64(stats.InUse), attrs)
			o.ObserveInt64(waits, stats.WaitCount, attrs)
		}
		if p.Hub != nil {
			o.ObserveInt64(subscribers, int64(p.Hub.Subscribers()))
		}
		return nil
	}, open, inUse, waits, subscribers)
	return err
}
