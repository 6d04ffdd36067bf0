package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/cache"
	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/entity"
	userrepo "github.com/Additional-Code/loadmatch/internal/repository/user"
	"github.com/Additional-Code/loadmatch/internal/testutil"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

func newStore(t *testing.T, backend cache.Store) (*Store, *entity.User) {
	conns := testutil.OpenDB(t)
	loader := testutil.InsertUser(t, conns, "Lena", entity.RoleLoader, 4.8)

	store := NewStore(Params{
		Cache:  backend,
		Users:  userrepo.NewRepository(conns),
		Config: config.Config{Session: config.Session{TTL: time.Hour}},
		Logger: zap.NewNop(),
	})
	return store, loader
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store, loader := newStore(t, cache.NewMemoryStore(0))

	sess, err := store.Start(ctx, loader.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, entity.RoleLoader, sess.Role)
	assert.Equal(t, "Lena", sess.Name)

	t.Run("should resolve a started session", func(t *testing.T) {
		got, err := store.Resolve(ctx, sess.Token)
		require.NoError(t, err)
		assert.Equal(t, loader.ID, got.UserID)
	})

	t.Run("should merge and remove preferences", func(t *testing.T) {
		_, err := store.SetPreferences(ctx, sess.Token, map[string]string{"theme": "dark", "lang": "en"})
		require.NoError(t, err)

		got, err := store.SetPreferences(ctx, sess.Token, map[string]string{"lang": ""})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"theme": "dark"}, got.Preferences)
	})

	t.Run("should reject ended sessions", func(t *testing.T) {
		require.NoError(t, store.End(ctx, sess.Token))

		_, err := store.Resolve(ctx, sess.Token)
		assert.True(t, errorbank.IsKind(err, errorbank.KindUnauthorized))
	})
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t, cache.NewMemoryStore(0))

	t.Run("should not start for unknown users", func(t *testing.T) {
		_, err := store.Start(ctx, 999)
		assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))
	})

	t.Run("should reject malformed tokens", func(t *testing.T) {
		_, err := store.Resolve(ctx, "not-a-token")
		assert.True(t, errorbank.IsKind(err, errorbank.KindUnauthorized))
	})
}

func TestStore_DisabledCacheStillKeepsSessions(t *testing.T) {
	ctx := context.Background()
	store, loader := newStore(t, nil)

	sess, err := store.Start(ctx, loader.ID)
	require.NoError(t, err)

	_, err = store.Resolve(ctx, sess.Token)
	assert.NoError(t, err)
}
