package chainhealth

import (
	"context"
	"dex-pool-sentinel/internal/sentinel/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"testing"
)

func check(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestChainServingStatus(t *testing.T) {
	s := New()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, ""))

	_, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName("base")})
	assert.Equal(t, codes.NotFound, status.Code(err))

	s.SetChain("base", true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, ServiceName("base")))

	s.OnChainStalled(orchestrator.StallNotice{Kind: orchestrator.StalledKind, Chain: "base"})
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, ServiceName("base")))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, ""), "a stalled chain does not take the process down")

	s.OnChainRecovered("base")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, ServiceName("base")))

	s.Shutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, ""))
}
