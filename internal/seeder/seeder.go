package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/repository/assignment"
	orderrepo "github.com/Additional-Code/loadmatch/internal/repository/order"
	userrepo "github.com/Additional-Code/loadmatch/internal/repository/user"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Orders      *orderrepo.Repository
	Assignments *assignment.Repository
	Users       *userrepo.Repository
	Logger      *zap.Logger
}

// Seeder fills an empty database with demo users and orders for local/dev setups.
type Seeder struct {
	orders  *orderrepo.Repository
	members *assignment.Repository
	users   *userrepo.Repository
	logger  *zap.Logger
	now     func() time.Time
}

// Result counts what a seeding run created.
type Result struct {
	Users  int
	Orders int
}

// New constructs a Seeder.
func New(p Params) *Seeder {
	return &Seeder{
		orders:  p.Orders,
		members: p.Assignments,
		users:   p.Users,
		logger:  p.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type sampleOrder struct {
	address   string
	cargo     string
	price     string
	hours     int
	workers   int
	minRating float64
	status    entity.Status
	crew      []int // indexes into the seeded loaders
	rating    int
}

// Seed creates demo data unless users already exist.
func (s *Seeder) Seed(ctx context.Context) (Result, error) {
	existing, err := s.users.List(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	if len(existing) > 0 {
		s.logger.Info("database already seeded; skipping", zap.Int("users", len(existing)))
		return Result{}, nil
	}

	var res Result
	err = s.orders.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		users := s.users.WithTx(tx)
		orders := s.orders.WithTx(tx)
		members := s.members.WithTx(tx)

		dispatcher := &entity.User{Name: "Anna Petrova", Phone: "+79000000001", Role: entity.RoleDispatcher}
		if err := users.Create(ctx, dispatcher); err != nil {
			return fmt.Errorf("seed dispatcher: %w", err)
		}
		res.Users++

		var loaders []*entity.User
		for i, rating := range []float64{5, 4.6, 3.8} {
			u := &entity.User{
				Name:   fmt.Sprintf("Loader %d", i+1),
				Phone:  fmt.Sprintf("+7900000010%d", i),
				Role:   entity.RoleLoader,
				Rating: rating,
			}
			if err := users.Create(ctx, u); err != nil {
				return fmt.Errorf("seed loader: %w", err)
			}
			loaders = append(loaders, u)
			res.Users++
		}

		for _, sample := range s.samples() {
			if err := s.seedOrder(ctx, orders, members, dispatcher.ID, loaders, sample); err != nil {
				return err
			}
			res.Orders++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("seeded demo data", zap.Int("users", res.Users), zap.Int("orders", res.Orders))
	return res, nil
}

func (s *Seeder) samples() []sampleOrder {
	return []sampleOrder{
		{address: "12 Harbour Road", cargo: "furniture", price: "120", hours: 3, workers: 1, status: entity.StatusAvailable},
		{address: "4 Depot Lane", cargo: "pallets", price: "95.50", hours: 5, workers: 3, minRating: 4, status: entity.StatusAvailable, crew: []int{0}},
		{address: "8 Mill Street", cargo: "boxes", price: "100", hours: 2, workers: 1, status: entity.StatusTaken, crew: []int{1}},
		{address: "31 Quay Side", cargo: "piano", price: "200", hours: 2, workers: 2, status: entity.StatusInProgress, crew: []int{0, 1}},
		{address: "77 Station Square", cargo: "office move", price: "150", hours: 4, workers: 1, status: entity.StatusCompleted, crew: []int{0}, rating: 5},
		{address: "5 Canal Walk", cargo: "appliances", price: "110", hours: 3, workers: 1, status: entity.StatusCompleted, crew: []int{2}, rating: 4},
		{address: "19 Orchard Close", cargo: "garden waste", price: "80", hours: 1, workers: 1, status: entity.StatusCancelled},
	}
}

func (s *Seeder) seedOrder(ctx context.Context, orders *orderrepo.Repository, members *assignment.Repository, dispatcherID int64, loaders []*entity.User, sample sampleOrder) error {
	now := s.now()
	order := &entity.Order{
		Address:          sample.address,
		CargoDescription: sample.cargo,
		DateTime:         now.Add(24 * time.Hour),
		PricePerHour:     decimal.RequireFromString(sample.price),
		EstimatedHours:   sample.hours,
		RequiredWorkers:  sample.workers,
		MinWorkerRating:  sample.minRating,
		DispatcherID:     dispatcherID,
		CreatedAt:        now,
	}
	id, err := orders.Insert(ctx, order)
	if err != nil {
		return fmt.Errorf("seed order %q: %w", sample.address, err)
	}

	for _, idx := range sample.crew {
		if _, err := members.Add(ctx, id, loaders[idx].ID); err != nil {
			return fmt.Errorf("seed crew for %q: %w", sample.address, err)
		}
	}

	if sample.status.HasWorker() {
		if err := orders.AssignWorker(ctx, id, loaders[sample.crew[0]].ID); err != nil {
			return err
		}
	}
	switch sample.status {
	case entity.StatusAvailable:
		return nil
	case entity.StatusCompleted:
		if err := orders.MarkCompleted(ctx, id, now); err != nil {
			return err
		}
	default:
		if err := orders.UpdateStatus(ctx, id, sample.status); err != nil {
			return err
		}
	}
	if sample.rating > 0 {
		return orders.SetRating(ctx, id, sample.rating)
	}
	return nil
}
