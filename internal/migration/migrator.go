package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/database"
)

//go:embed sql/*/*.sql
var migrationsFS embed.FS

// Module provides the migrator to Fx.
var Module = fx.Provide(New)

// Migrator wraps goose operations over the embedded schema for one dialect.
type Migrator struct {
	db     *bun.DB
	dir    string
	logger *zap.Logger
}

// New constructs a goose-backed migrator.
func New(cfg config.Config, conns *database.Connections, logger *zap.Logger) (*Migrator, error) {
	return ForDriver(cfg.Database.Driver, conns.Writer, logger)
}

// ForDriver builds a migrator for an already opened database.
func ForDriver(driver string, db *bun.DB, logger *zap.Logger) (*Migrator, error) {
	dialect, dir, err := gooseDialect(driver)
	if err != nil {
		return nil, err
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return nil, err
	}

	return &Migrator{
		db:     db,
		dir:    path.Join("sql", dir),
		logger: logger,
	}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	applied, err := m.run(func() error { return goose.UpContext(ctx, m.db.DB, m.dir) })
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	m.logger.Info("migrate up", zap.String("dir", m.dir), zap.Bool("changed", applied))
	return nil
}

// Down rolls back the given number of migrations (at least one), or every
// migration when all is set.
func (m *Migrator) Down(ctx context.Context, steps int, all bool) error {
	step := func() error { return goose.DownContext(ctx, m.db.DB, m.dir) }
	if all {
		step = func() error { return goose.DownToContext(ctx, m.db.DB, m.dir, 0) }
		steps = 1
	}
	steps = max(steps, 1)

	rolled := 0
	for ; rolled < steps; rolled++ {
		version, err := m.Version(ctx)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		if version == 0 {
			break
		}
		changed, err := m.run(step)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		if !changed {
			break
		}
	}
	m.logger.Info("migrate down", zap.Int("steps", rolled), zap.Bool("all", all))
	return nil
}

// run reports false instead of an error when goose finds nothing to do.
func (m *Migrator) run(fn func() error) (bool, error) {
	err := fn()
	if isNoMigrationErr(err) {
		return false, nil
	}
	return err == nil, err
}

// Version reports the latest applied migration version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, m.db.DB)
}

func gooseDialect(driver string) (dialect, dir string, err error) {
	switch driver {
	case "postgres", "pg":
		return "postgres", "postgres", nil
	case "mysql":
		return "mysql", "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite3", "sqlite", nil
	default:
		return "", "", fmt.Errorf("unsupported goose dialect for driver %s", driver)
	}
}

func isNoMigrationErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoMigrationFiles) {
		return true
	}

	return strings.Contains(err.Error(), "no migrations")
}
