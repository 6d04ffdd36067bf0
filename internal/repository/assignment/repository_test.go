package assignment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/loadmatch/internal/entity"
	"github.com/Additional-Code/loadmatch/internal/repository/assignment"
	"github.com/Additional-Code/loadmatch/internal/testutil"
)

func TestRepository(t *testing.T) {
	conns := testutil.OpenDB(t)
	repo := assignment.NewRepository(conns)
	ctx := context.Background()

	dispatcher := testutil.InsertUser(t, conns, "D", entity.RoleDispatcher, 5)
	first := testutil.InsertUser(t, conns, "First", entity.RoleLoader, 5)
	second := testutil.InsertUser(t, conns, "Second", entity.RoleLoader, 5)

	o := testutil.NewOrder(dispatcher.ID, "Harbour 2", 100, 1)
	o.RequiredWorkers = 3
	testutil.InsertOrder(t, conns, o)

	t.Run("should add members idempotently", func(t *testing.T) {
		added, err := repo.Add(ctx, o.ID, first.ID)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = repo.Add(ctx, o.ID, first.ID)
		require.NoError(t, err)
		assert.False(t, added)

		n, err := repo.Count(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("should keep members in join order", func(t *testing.T) {
		_, err := repo.Add(ctx, o.ID, second.ID)
		require.NoError(t, err)

		ids, err := repo.MemberIDs(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{first.ID, second.ID}, ids)
	})

	t.Run("should answer membership", func(t *testing.T) {
		ok, err := repo.HasMember(ctx, o.ID, second.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.HasMember(ctx, o.ID, dispatcher.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should list orders for a worker", func(t *testing.T) {
		ids, err := repo.OrdersForWorker(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{o.ID}, ids)

		ids, err = repo.OrdersForWorker(ctx, dispatcher.ID)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}
