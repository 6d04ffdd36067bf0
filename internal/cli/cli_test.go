package cli

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/loadmatch/internal/service/stats"
)

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()

	for _, path := range [][]string{
		{"start"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"migrate", "status"},
		{"seed"},
		{"worker", "run"},
		{"stats", "worker"},
		{"stats", "dispatcher"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"0", "-1", "x"} {
		_, err := parseID(raw)
		assert.Error(t, err, raw)
	}
}

func TestRenderWorker(t *testing.T) {
	t.Run("should print earnings and rating", func(t *testing.T) {
		var buf bytes.Buffer
		avg := 4.5
		require.NoError(t, RenderWorker(&buf, stats.WorkerSummary{
			WorkerID:        7,
			JoinedOrders:    5,
			CompletedOrders: 2,
			TotalEarnings:   decimal.NewFromInt(300),
			AverageRating:   &avg,
		}))

		out := buf.String()
		assert.Contains(t, out, "300.00")
		assert.Contains(t, out, "joined orders")
		assert.Contains(t, out, "4.50")
	})

	t.Run("should print a dash without ratings", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderWorker(&buf, stats.WorkerSummary{WorkerID: 7, TotalEarnings: decimal.Zero}))

		assert.Contains(t, buf.String(), "-")
	})
}

func TestRenderDispatcher(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderDispatcher(&buf, stats.DispatcherSummary{DispatcherID: 1, CompletedOrders: 3, ActiveOrders: 2}))

	assert.Contains(t, buf.String(), "active orders")
}
