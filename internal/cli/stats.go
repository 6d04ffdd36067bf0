package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/app"
	"github.com/Additional-Code/loadmatch/internal/service/stats"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print order statistics for a user",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "worker [id]",
		Short: "Completed orders, earnings and average rating of a loader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStats(cmd.Context(), func(ctx context.Context, svc *stats.Service) error {
				summary, err := svc.WorkerSummary(ctx, id)
				if err != nil {
					return err
				}
				return RenderWorker(cmd.OutOrStdout(), summary)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dispatcher [id]",
		Short: "Completed and active orders of a dispatcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withStats(cmd.Context(), func(ctx context.Context, svc *stats.Service) error {
				summary, err := svc.DispatcherSummary(ctx, id)
				if err != nil {
					return err
				}
				return RenderDispatcher(cmd.OutOrStdout(), summary)
			})
		},
	})

	return cmd
}

func withStats(ctx context.Context, fn func(context.Context, *stats.Service) error) error {
	var svc *stats.Service
	opts := fx.Options(app.Infra, stats.Module, fx.Populate(&svc))
	return runWithApp(ctx, opts, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// RenderWorker prints a loader summary as a two-column table.
func RenderWorker(w io.Writer, s stats.WorkerSummary) error {
	rating := "-"
	if s.AverageRating != nil {
		rating = strconv.FormatFloat(*s.AverageRating, 'f', 2, 64)
	}
	return render(w, [][]string{
		{"worker", strconv.FormatInt(s.WorkerID, 10)},
		{"joined orders", strconv.Itoa(s.JoinedOrders)},
		{"completed orders", strconv.Itoa(s.CompletedOrders)},
		{"total earnings", s.TotalEarnings.StringFixed(2)},
		{"average rating", rating},
	})
}

// RenderDispatcher prints a dispatcher summary as a two-column table.
func RenderDispatcher(w io.Writer, s stats.DispatcherSummary) error {
	return render(w, [][]string{
		{"dispatcher", strconv.FormatInt(s.DispatcherID, 10)},
		{"completed orders", strconv.Itoa(s.CompletedOrders)},
		{"active orders", strconv.Itoa(s.ActiveOrders)},
	})
}

func render(w io.Writer, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header("metric", "value")
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
