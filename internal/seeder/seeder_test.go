package seeder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/repository/assignment"
	orderrepo "github.com/Additional-Code/loadmatch/internal/repository/order"
	userrepo "github.com/Additional-Code/loadmatch/internal/repository/user"
	"github.com/Additional-Code/loadmatch/internal/seeder"
	"github.com/Additional-Code/loadmatch/internal/testutil"
)

func TestSeeder_Seed(t *testing.T) {
	conns := testutil.OpenDB(t)
	orders := orderrepo.NewRepository(conns)
	ctx := context.Background()

	s := seeder.New(seeder.Params{
		Orders:      orders,
		Assignments: assignment.NewRepository(conns),
		Users:       userrepo.NewRepository(conns),
		Logger:      zap.NewNop(),
	})

	t.Run("should seed consistent orders", func(t *testing.T) {
		res, err := s.Seed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Users)
		assert.Equal(t, 7, res.Orders)

		for _, status := range entity.Statuses {
			list, err := orders.ListByStatus(ctx, status)
			require.NoError(t, err)
			for i := range list {
				assert.NoError(t, list[i].CheckInvariants(), "order %d", list[i].ID)
			}
		}
	})

	t.Run("should skip an already seeded database", func(t *testing.T) {
		res, err := s.Seed(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Users)
		assert.Zero(t, res.Orders)
	})
}
