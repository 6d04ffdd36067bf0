package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	// MinRating and MaxRating bound both user ratings and per-order worker ratings.
	MinRating = 1
	MaxRating = 5

	// PriceScale is the number of decimal places the price column keeps.
	PriceScale = 2
)

// PriceLimit is the smallest price the decimal(12,2) price column cannot hold.
var PriceLimit = decimal.New(1, 10)

// CheckPrice reports whether price is positive, whole in cents and within the
// price column's range.
func CheckPrice(price decimal.Decimal) error {
	switch {
	case !price.IsPositive():
		return errors.New("price per hour must be positive")
	case !price.Equal(price.Round(PriceScale)):
		return fmt.Errorf("price per hour must have at most %d decimal places", PriceScale)
	case price.GreaterThanOrEqual(PriceLimit):
		return fmt.Errorf("price per hour must be below %s", PriceLimit.String())
	}
	return nil
}

// Order is a cargo-loading job posted by a dispatcher.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID               int64           `bun:"id,pk,autoincrement"`
	Address          string          `bun:"address,notnull"`
	CargoDescription string          `bun:"cargo_description,notnull"`
	Comment          string          `bun:"comment,notnull"`
	DateTime         time.Time       `bun:"date_time,notnull"`
	PricePerHour     decimal.Decimal `bun:"price_per_hour,type:decimal(12,2),notnull"`
	EstimatedHours   int             `bun:"estimated_hours,notnull,default:1"`
	RequiredWorkers  int             `bun:"required_workers,notnull,default:1"`
	MinWorkerRating  float64         `bun:"min_worker_rating,notnull,default:0"`
	Status           Status          `bun:"status,notnull"`
	DispatcherID     int64           `bun:"dispatcher_id,notnull"`
	WorkerID         *int64          `bun:"worker_id"`
	CreatedAt        time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	CompletedAt      *time.Time      `bun:"completed_at"`
	WorkerRating     *int            `bun:"worker_rating"`
	Version          int64           `bun:"version,notnull,default:1"`
}

// Earnings is what one loader is paid for the order.
func (o *Order) Earnings() decimal.Decimal {
	return o.PricePerHour.Mul(decimal.NewFromInt(int64(o.EstimatedHours)))
}

// MultiSlot reports whether the order needs more than one loader.
func (o *Order) MultiSlot() bool {
	return o.RequiredWorkers > 1
}

// CheckInvariants verifies the status/worker/completion coupling of a stored order.
func (o *Order) CheckInvariants() error {
	if o == nil {
		return errors.New("nil order")
	}
	var errs []error
	if !o.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", o.Status))
	}
	if o.Status.HasWorker() != (o.WorkerID != nil) {
		errs = append(errs, fmt.Errorf("status %s with worker_id set=%t", o.Status, o.WorkerID != nil))
	}
	if (o.Status == StatusCompleted) != (o.CompletedAt != nil) {
		errs = append(errs, fmt.Errorf("status %s with completed_at set=%t", o.Status, o.CompletedAt != nil))
	}
	if o.WorkerRating != nil && (*o.WorkerRating < MinRating || *o.WorkerRating > MaxRating) {
		errs = append(errs, fmt.Errorf("worker rating %d out of range", *o.WorkerRating))
	}
	return errors.Join(errs...)
}

// OrderWorker records that a loader joined an order. Rows are never updated or deleted.
type OrderWorker struct {
	bun.BaseModel `bun:"table:order_workers,alias:ow"`

	OrderID  int64     `bun:"order_id,pk"`
	WorkerID int64     `bun:"worker_id,pk"`
	TakenAt  time.Time `bun:"taken_at,notnull"`
}
