package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/database"
	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/migration"
)

// Option tweaks the pool OpenDB builds.
type Option func(*config.Database)

// WithMaxOpenConns widens the pool so racing callers hold separate
// connections and contend on the database lock itself.
func WithMaxOpenConns(n int) Option {
	return func(cfg *config.Database) {
		cfg.MaxOpenConns = n
		cfg.MaxIdleConns = n
	}
}

// OpenDB opens a migrated SQLite database in a temp dir. The pool holds a
// single connection unless an option says otherwise.
func OpenDB(t testing.TB, opts ...Option) *database.Connections {
	t.Helper()

	cfg := config.Database{
		Driver:       "sqlite",
		WriterDSN:    "file:" + filepath.Join(t.TempDir(), "loadmatch.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	conns, err := database.Open(cfg)
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { _ = conns.Close() })

	m, err := migration.ForDriver("sqlite", conns.Writer, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()), "migrate test db")

	return conns
}

// InsertUser stores a user directly, bypassing store validation.
func InsertUser(t testing.TB, conns *database.Connections, name string, role entity.Role, rating float64) *entity.User {
	t.Helper()

	u := &entity.User{
		Name:      name,
		Phone:     "+10000000000",
		Role:      role,
		Rating:    rating,
		CreatedAt: time.Now().UTC(),
	}
	_, err := conns.Writer.NewInsert().Model(u).Exec(context.Background())
	require.NoError(t, err, "insert user %s", name)
	return u
}

// NewOrder returns an AVAILABLE single-slot order draft owned by dispatcherID.
func NewOrder(dispatcherID int64, address string, price int64, hours int) *entity.Order {
	return &entity.Order{
		Address:          address,
		CargoDescription: "boxes",
		DateTime:         time.Now().UTC().Truncate(time.Second),
		PricePerHour:     decimal.NewFromInt(price),
		EstimatedHours:   hours,
		RequiredWorkers:  1,
		Status:           entity.StatusAvailable,
		DispatcherID:     dispatcherID,
	}
}

// InsertOrder stores an order directly, bypassing store validation.
func InsertOrder(t testing.TB, conns *database.Connections, o *entity.Order) *entity.Order {
	t.Helper()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Version == 0 {
		o.Version = 1
	}
	_, err := conns.Writer.NewInsert().Model(o).Exec(context.Background())
	require.NoError(t, err, "insert order %s", o.Address)
	return o
}
