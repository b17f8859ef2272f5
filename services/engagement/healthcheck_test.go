package engagement

import (
	"context"
	"testing"

	"testerhub-engagement/pkg/errutil"
	"testerhub-engagement/services/testutil"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func TestHealthServerCheck(t *testing.T) {
	db := testutil.NewTestDB(t)
	s := NewHealthServer(db)
	intercept := errutil.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	check := func(ctx context.Context, req any) (any, error) {
		return s.Check(ctx, req.(*grpc_health_v1.HealthCheckRequest))
	}

	resp, err := intercept(context.Background(), &grpc_health_v1.HealthCheckRequest{}, info, check)
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.(*grpc_health_v1.HealthCheckResponse).Status)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	resp, err = intercept(context.Background(), &grpc_health_v1.HealthCheckRequest{}, info, check)
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.(*grpc_health_v1.HealthCheckResponse).Status)

	err = s.Watch(&grpc_health_v1.HealthCheckRequest{}, nil)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}
