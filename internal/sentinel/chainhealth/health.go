package chainhealth

import (
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/sentinel/orchestrator"
	"dex-pool-sentinel/internal/sentinel/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const servicePrefix = "sentinel.chain."

// ServiceName 单链在 gRPC 健康服务中的名称
func ServiceName(id types.ChainID) string {
	return servicePrefix + string(id)
}

// Server 标准 gRPC 健康服务，每条链一个 service name
// 整体状态 ("") 在进程存活期间始终为 SERVING，停滞只影响对应链
type Server struct {
	hs *health.Server
}

var _ orchestrator.StallNotifier = (*Server)(nil)

func New() *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &Server{hs: hs}
}

func (s *Server) SetChain(id types.ChainID, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus(ServiceName(id), status)
}

func (s *Server) OnChainStalled(n orchestrator.StallNotice) {
	s.SetChain(n.Chain, false)
}

func (s *Server) OnChainRecovered(id types.ChainID) {
	s.SetChain(id, true)
}

func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.hs)
}

func (s *Server) Health() healthpb.HealthServer {
	return s.hs
}

// Shutdown 所有服务置为 NOT_SERVING，进程退出前调用
func (s *Server) Shutdown() {
	logger.Infof("[ChainHealth] shutting down, all services NOT_SERVING")
	s.hs.Shutdown()
}
