package svc

import (
	"dex-pool-sentinel/internal/config"
	"dex-pool-sentinel/internal/pkg/nacos"
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/security"
	"fmt"
	"net/http"
)

type ServiceContext struct {
	Cfg          *config.Config
	NacosManager *nacos.NacosManager   // 未配置 nacos 时为 nil
	Auditor      chain.SecurityAuditor // 未配置审计服务时为 nil，各链退回本地检查
}

func NewServiceContext(c *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{Cfg: c}

	// 初始化 Nacos 客户端
	if c.NacosConfig != nil {
		m, err := nacos.NewNacosManager(c.NacosConfig)
		if err != nil {
			return nil, err
		}
		sc.NacosManager = m
	}

	if c.Security.Enabled() {
		resolver, err := sc.securityResolver()
		if err != nil {
			sc.Close()
			return nil, err
		}
		client, err := security.NewClient(c.Security.ToClientConfig(), resolver, &http.Client{})
		if err != nil {
			sc.Close()
			return nil, err
		}
		sc.Auditor = client
	}
	return sc, nil
}

func (sc *ServiceContext) securityResolver() (security.Resolver, error) {
	c := sc.Cfg.Security
	if c.NacosService == "" {
		return security.StaticResolver(c.BaseURL), nil
	}
	if sc.NacosManager == nil {
		return nil, fmt.Errorf("security service %s requires nacos", c.NacosService)
	}
	rs := sc.NacosManager.GetRemoteServiceByID(c.NacosService)
	if rs == nil {
		return nil, fmt.Errorf("security service %s is not subscribed in nacos clients", c.NacosService)
	}
	return rs, nil
}

func (sc *ServiceContext) Close() {
	if sc.NacosManager != nil {
		sc.NacosManager.Close()
	}
}
