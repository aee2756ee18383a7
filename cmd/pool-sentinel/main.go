package main

import (
	"dex-pool-sentinel/internal/config"
	"dex-pool-sentinel/internal/handler"
	"dex-pool-sentinel/internal/pkg/configloader"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/rest"
	"dex-pool-sentinel/internal/sentinel"
	"dex-pool-sentinel/internal/svc"
	"flag"
	"fmt"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/zrpc"
	"google.golang.org/grpc"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
)

var configFile = flag.String("f", "etc/pool-sentinel/test.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()
	defer logger.Sync()

	flag.Parse()
	logger.Infof("Loading config from %s", *configFile)

	// 加载配置
	var c config.Config
	if err := configloader.LoadConfig(*configFile, &c); err != nil {
		panic(fmt.Sprintf("配置加载失败: %v", err))
	}
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("配置校验失败: %v", err))
	}

	// 初始化 zap 日志
	logger.InitLogger(c.LogConf.ToLogOption())
	logx.SetWriter(logger.ZapWriter{})

	// 初始化依赖注入上下文
	svcCtx, err := svc.NewServiceContext(&c)
	if err != nil {
		panic(fmt.Sprintf("初始化服务上下文失败: %v", err))
	}

	app, err := sentinel.NewApp(svcCtx)
	if err != nil {
		panic(fmt.Sprintf("初始化应用失败: %v", err))
	}

	// 构造 go-zero ServiceGroup 管理服务
	sg := zerosvc.NewServiceGroup()
	sg.Add(app)

	// 每条链一个 gRPC 健康服务名
	if c.Grpc.Port > 0 {
		rpcServer := zrpc.MustNewServer(c.Grpc.ToRpcServerConf(), func(grpcServer *grpc.Server) {
			app.Health().Register(grpcServer)
		})
		sg.Add(rpcServer)
	}

	if c.Monitor.Port > 0 {
		sg.Add(initializeRestServer(&c, app))
	}

	// 启动服务
	logger.Infof("pool sentinel starting")
	go sg.Start()

	// 等待退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down services...")
	sg.Stop()
}

func initializeRestServer(c *config.Config, app *sentinel.App) *rest.SimpleRestServer {
	healthCheck := handler.HealthCheck(app)
	routes := map[string]http.HandlerFunc{
		"/raft/leader":      handler.GetLeaderIP(app),
		"/healthz":          healthCheck,
		"/health/readiness": handler.Readiness(app),
		"/health/liveness":  healthCheck,
		"/chains":           handler.ListChains(app),
		"/tokens":           handler.InspectToken(app),
		"/tiers":            handler.ListTiers(app),
	}

	if c.Monitor.AllowChangeRaftNode {
		routes["/raft/add_node"] = handler.AddRaftNode(app)
		routes["/raft/remove_node"] = handler.RemoveRaftNode(app)
	}
	if c.Monitor.AllowToggleTier {
		routes["/tiers/toggle"] = handler.ToggleTier(app)
	}

	return rest.NewSimpleRestServer(c.Monitor.Port, routes)
}
