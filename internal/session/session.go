package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/cache"
	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/entity"
	userrepo "github.com/Additional-Code/loadmatch/internal/repository/user"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

const keyPrefix = "sessions:"

// Session is the acting user as chosen on this device, plus UI preferences.
type Session struct {
	Token       string            `json:"token"`
	UserID      int64             `json:"user_id"`
	Role        entity.Role       `json:"role"`
	Name        string            `json:"name"`
	Preferences map[string]string `json:"preferences,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Cache  cache.Store
	Users  *userrepo.Repository
	Config config.Config
	Logger *zap.Logger
}

// Module provides the session store to Fx.
var Module = fx.Provide(NewStore)

// Store keeps sessions in the cache backend. It never falls back to a
// discarding backend: a disabled cache gets a process-local store.
type Store struct {
	cache  cache.Store
	users  *userrepo.Repository
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wires a session Store.
func NewStore(p Params) *Store {
	return &Store{
		cache:  cache.Durable(p.Cache),
		users:  p.Users,
		ttl:    p.Config.Session.TTL,
		logger: p.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a session for an existing user and returns it with its token.
func (s *Store) Start(ctx context.Context, userID int64) (*Session, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, userrepo.ErrNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("user %d not found", userID))
	}
	if err != nil {
		return nil, errorbank.StoreUnavailable("failed to load user", errorbank.WithCause(err))
	}

	sess := &Session{
		Token:       uuid.NewString(),
		UserID:      u.ID,
		Role:        u.Role,
		Name:        u.Name,
		Preferences: map[string]string{},
		StartedAt:   s.now(),
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("session started", zap.Int64("user_id", u.ID), zap.String("role", u.Role.String()))
	return sess, nil
}

// Resolve returns the session for token, or Unauthorized when it is unknown
// or expired.
func (s *Store) Resolve(ctx context.Context, token string) (*Session, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, errorbank.Unauthorized("invalid session token")
	}

	raw, err := s.cache.Get(ctx, keyPrefix+token)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, errorbank.Unauthorized("session not found")
	}
	if err != nil {
		return nil, errorbank.StoreUnavailable("failed to read session", errorbank.WithCause(err))
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errorbank.Internal("corrupt session", errorbank.WithCause(err))
	}
	return &sess, nil
}

// SetPreferences merges prefs into the session. Empty values remove keys.
func (s *Store) SetPreferences(ctx context.Context, token string, prefs map[string]string) (*Session, error) {
	sess, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.Preferences == nil {
		sess.Preferences = map[string]string{}
	}
	for k, v := range prefs {
		if v == "" {
			delete(sess.Preferences, k)
			continue
		}
		sess.Preferences[k] = v
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// End removes the session. Ending an unknown session is not an error.
func (s *Store) End(ctx context.Context, token string) error {
	if err := s.cache.Delete(ctx, keyPrefix+token); err != nil {
		return errorbank.StoreUnavailable("failed to end session", errorbank.WithCause(err))
	}
	return nil
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errorbank.Internal("failed to encode session", errorbank.WithCause(err))
	}
	if err := s.cache.Set(ctx, keyPrefix+sess.Token, raw, s.ttl); err != nil {
		return errorbank.StoreUnavailable("failed to store session", errorbank.WithCause(err))
	}
	return nil
}
