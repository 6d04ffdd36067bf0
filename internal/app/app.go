package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/loadmatch/internal/cache"
	"github.com/Additional-Code/loadmatch/internal/config"
	"github.com/Additional-Code/loadmatch/internal/database"
	"github.com/Additional-Code/loadmatch/internal/jobs"
	"github.com/Additional-Code/loadmatch/internal/logger"
	"github.com/Additional-Code/loadmatch/internal/messaging"
	"github.com/Additional-Code/loadmatch/internal/notify"
	"github.com/Additional-Code/loadmatch/internal/observability"
	"github.com/Additional-Code/loadmatch/internal/repository/assignment"
	repositoryorder "github.com/Additional-Code/loadmatch/internal/repository/order"
	repositoryuser "github.com/Additional-Code/loadmatch/internal/repository/user"
	grpcserver "github.com/Additional-Code/loadmatch/internal/server/grpc"
	httpserver "github.com/Additional-Code/loadmatch/internal/server/http"
	serviceorder "github.com/Additional-Code/loadmatch/internal/service/order"
	servicestats "github.com/Additional-Code/loadmatch/internal/service/stats"
	serviceuser "github.com/Additional-Code/loadmatch/internal/service/user"
	"github.com/Additional-Code/loadmatch/internal/session"
	transporthttp "github.com/Additional-Code/loadmatch/internal/transport/http"
	"github.com/Additional-Code/loadmatch/internal/watch"
	"github.com/Additional-Code/loadmatch/internal/worker"
	workerorder "github.com/Additional-Code/loadmatch/internal/worker/order"
)

// Infra provides configuration, logging and storage without domain services.
var Infra = fx.Options(
	config.Module,
	logger.Module,
	database.Module,
	repositoryorder.Module,
	assignment.Module,
	repositoryuser.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Infra,
	cache.Module,
	messaging.Module,
	observability.Module,
	notify.Module,
	watch.Module,
	serviceorder.Module,
	servicestats.Module,
	serviceuser.Module,
	session.Module,
)

// HTTP wires the HTTP and gRPC transports and the stale-order sweeper on top
// of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
	jobs.Module,
)

// Worker exposes background push delivery.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring.
var Module = HTTP
