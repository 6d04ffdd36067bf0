package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/database"
	"github.com/Additional-Code/loadmatch/internal/entity"
	repo "github.com/Additional-Code/loadmatch/internal/repository/user"
	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/loadmatch/service/user")

// Module provides the user service to Fx.
var Module = fx.Provide(NewService)

// RegisterInput carries the fields a person picks when choosing a local identity.
type RegisterInput struct {
	Name      string
	Phone     string
	Role      string
	BirthDate *time.Time
}

// Service registers and looks up dispatchers and loaders.
type Service struct {
	users  *repo.Repository
	logger *zap.Logger
}

// NewService wires a new Service instance.
func NewService(users *repo.Repository, logger *zap.Logger) *Service {
	return &Service{users: users, logger: logger}
}

// Register creates a user with the default rating.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	ctx, span := serviceTracer.Start(ctx, "UserService.Register")
	defer span.End()

	role, err := entity.ParseRole(strings.TrimSpace(in.Role))
	if err != nil {
		return nil, errorbank.Validation("role must be DISPATCHER or LOADER", errorbank.WithDetail("role", in.Role))
	}

	u := &entity.User{
		Name:      in.Name,
		Phone:     strings.TrimSpace(in.Phone),
		Role:      role,
		BirthDate: in.BirthDate,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrInvalidUser) {
			return nil, errorbank.Validation(err.Error())
		}
		return nil, storeError(span, "failed to create user", err)
	}

	span.SetAttributes(attribute.Int64("user.id", u.ID))
	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("role", u.Role.String()))
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id int64) (*entity.User, error) {
	ctx, span := serviceTracer.Start(ctx, "UserService.Get", trace.WithAttributes(attribute.Int64("user.id", id)))
	defer span.End()

	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound(fmt.Sprintf("user %d not found", id))
	}
	if err != nil {
		return nil, storeError(span, "failed to load user", err)
	}
	return u, nil
}

// List returns users, optionally only those with role.
func (s *Service) List(ctx context.Context, role *entity.Role) ([]entity.User, error) {
	ctx, span := serviceTracer.Start(ctx, "UserService.List")
	defer span.End()

	users, err := s.users.List(ctx, role)
	if err != nil {
		return nil, storeError(span, "failed to list users", err)
	}
	return users, nil
}

func storeError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	if database.IsUnavailable(err) {
		return errorbank.StoreUnavailable(msg, errorbank.WithCause(err))
	}
	return errorbank.Internal(msg, errorbank.WithCause(err))
}
