package dto

import "github.com/Additional-Code/loadmatch/internal/service/stats"

// WorkerStatsResponse carries a loader's aggregates. AverageRating is null
// when no completed order was rated.
type WorkerStatsResponse struct {
	WorkerID        int64    `json:"worker_id"`
	JoinedOrders    int      `json:"joined_orders"`
	CompletedOrders int      `json:"completed_orders"`
	TotalEarnings   string   `json:"total_earnings"`
	AverageRating   *float64 `json:"average_rating"`
}

// DispatcherStatsResponse carries a dispatcher's aggregates.
type DispatcherStatsResponse struct {
	DispatcherID    int64 `json:"dispatcher_id"`
	CompletedOrders int   `json:"completed_orders"`
	ActiveOrders    int   `json:"active_orders"`
}

func FromWorkerSummary(s stats.WorkerSummary) WorkerStatsResponse {
	return WorkerStatsResponse{
		WorkerID:        s.WorkerID,
		JoinedOrders:    s.JoinedOrders,
		CompletedOrders: s.CompletedOrders,
		TotalEarnings:   s.TotalEarnings.StringFixed(2),
		AverageRating:   s.AverageRating,
	}
}

func FromDispatcherSummary(s stats.DispatcherSummary) DispatcherStatsResponse {
	return DispatcherStatsResponse{
		DispatcherID:    s.DispatcherID,
		CompletedOrders: s.CompletedOrders,
		ActiveOrders:    s.ActiveOrders,
	}
}
