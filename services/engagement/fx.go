package engagement

import (
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Module provides the engagement service. API and worker processes add the
// surface they serve on top of it.
var Module = fx.Module("engagement.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("engagement.http",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

var GRPC = fx.Module("engagement.grpc",
	fx.Provide(NewHealthServer),
	fx.Invoke(registerHealthServer),
)

var Worker = fx.Module("engagement.worker",
	fx.Provide(NewTaskHandler, NewScheduler),
	fx.Invoke(registerTaskHandlers, startScheduler),
)

func registerHealthServer(server *grpc.Server, h *HealthServer) {
	grpc_health_v1.RegisterHealthServer(server, h)
}

