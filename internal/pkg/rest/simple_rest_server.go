package rest

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

const shutdownTimeout = 5 * time.Second

type SimpleRestServer struct {
	port   int
	server *http.Server
}

// NewSimpleRestServer 创建并返回一个新的 REST 服务实例
func NewSimpleRestServer(port int, routes map[string]http.HandlerFunc) *SimpleRestServer {
	return &SimpleRestServer{
		port: port,
		server: &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", port),
			Handler:           newMux(routes),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func newMux(routes map[string]http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()

	// Prometheus Metrics 路由
	mux.Handle("/metrics", promhttp.Handler())

	// 注册自定义路由
	for path, handlerFunc := range routes {
		mux.HandleFunc(path, handlerFunc)
	}
	return mux
}

// Start 启动 REST 服务，非阻塞
func (s *SimpleRestServer) Start() {
	go func() {
		logger.Infof("[SimpleRestServer] starting on port %d", s.port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[SimpleRestServer] listen on port %d failed: %v", s.port, err)
		}
	}()
}

// Stop 停止 REST 服务
func (s *SimpleRestServer) Stop() {
	logger.Infof("[SimpleRestServer] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Warnf("[SimpleRestServer] shutdown: %v", err)
	}
}
