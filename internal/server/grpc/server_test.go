package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Additional-Code/loadmatch/pkg/errorbank"
)

func TestUnaryErrors(t *testing.T) {
	interceptor := UnaryErrors()
	info := &grpc.UnaryServerInfo{FullMethod: "/loadmatch.v1.Orders/Take"}

	cases := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{"should map already taken to aborted", errorbank.AlreadyTaken("order 1 is taken"), codes.Aborted, "order 1 is taken"},
		{"should map store outage to unavailable", errorbank.StoreUnavailable("db down"), codes.Unavailable, "db down"},
		{"should hide unexpected errors", errors.New("pq: boom"), codes.Internal, "internal error"},
		{"should keep existing statuses", status.Error(codes.Canceled, "gone"), codes.Canceled, "gone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
				return nil, tc.err
			})

			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tc.code, st.Code())
			assert.Equal(t, tc.msg, st.Message())
		})
	}

	t.Run("should pass successes through", func(t *testing.T) {
		resp, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})
}

func TestHealth(t *testing.T) {
	healthSrv := NewHealth()
	server := NewServer(zap.NewNop(), healthSrv)

	ln := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return ln.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
