package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/loadmatch/internal/entity"
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Address          string          `json:"address"`
	CargoDescription string          `json:"cargo_description"`
	Comment          string          `json:"comment"`
	DateTime         time.Time       `json:"date_time"`
	PricePerHour     decimal.Decimal `json:"price_per_hour"`
	EstimatedHours   int             `json:"estimated_hours"`
	RequiredWorkers  int             `json:"required_workers"`
	MinWorkerRating  float64         `json:"min_worker_rating"`
}

// RateOrderRequest is the body of POST /orders/:id/rate.
type RateOrderRequest struct {
	Rating int `json:"rating"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID               int64      `json:"id"`
	Address          string     `json:"address"`
	CargoDescription string     `json:"cargo_description"`
	Comment          string     `json:"comment,omitempty"`
	DateTime         time.Time  `json:"date_time"`
	PricePerHour     string     `json:"price_per_hour"`
	EstimatedHours   int        `json:"estimated_hours"`
	RequiredWorkers  int        `json:"required_workers"`
	MinWorkerRating  float64    `json:"min_worker_rating"`
	Earnings         string     `json:"earnings"`
	Status           string     `json:"status"`
	DispatcherID     int64      `json:"dispatcher_id"`
	WorkerID         *int64     `json:"worker_id,omitempty"`
	WorkerRating     *int       `json:"worker_rating,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Version          int64      `json:"version"`
}

// OrderWorkerResponse is one member of an order's crew.
type OrderWorkerResponse struct {
	WorkerID int64     `json:"worker_id"`
	TakenAt  time.Time `json:"taken_at"`
}

// FromOrder maps an order entity to its response shape.
func FromOrder(o *entity.Order) OrderResponse {
	return OrderResponse{
		ID:               o.ID,
		Address:          o.Address,
		CargoDescription: o.CargoDescription,
		Comment:          o.Comment,
		DateTime:         o.DateTime,
		PricePerHour:     o.PricePerHour.StringFixed(2),
		EstimatedHours:   o.EstimatedHours,
		RequiredWorkers:  o.RequiredWorkers,
		MinWorkerRating:  o.MinWorkerRating,
		Earnings:         o.Earnings().StringFixed(2),
		Status:           o.Status.String(),
		DispatcherID:     o.DispatcherID,
		WorkerID:         o.WorkerID,
		WorkerRating:     o.WorkerRating,
		CreatedAt:        o.CreatedAt,
		CompletedAt:      o.CompletedAt,
		Version:          o.Version,
	}
}

// FromOrders maps a list, never returning nil.
func FromOrders(orders []entity.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, FromOrder(&orders[i]))
	}
	return out
}

// FromOrderWorkers maps crew rows.
func FromOrderWorkers(rows []entity.OrderWorker) []OrderWorkerResponse {
	out := make([]OrderWorkerResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, OrderWorkerResponse{WorkerID: r.WorkerID, TakenAt: r.TakenAt})
	}
	return out
}
