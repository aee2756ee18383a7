package nacos

import (
	"context"
	"dex-pool-sentinel/internal/pkg/logger"
	"dex-pool-sentinel/internal/pkg/retry"
	"dex-pool-sentinel/internal/pkg/utils"
	"errors"
	"fmt"
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"sync"
	"time"
)

// registerPolicy 注册/注销实例的重试策略
var registerPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2}

var errRejected = errors.New("nacos rejected the request")

// NacosManager 管理三件事：本节点实例注册、下游服务发现、层级开关配置监听
type NacosManager struct {
	cfg          *NacosConfig
	naming       naming_client.INamingClient
	configClient config_client.IConfigClient // 未配置 watch 时为 nil

	mu         sync.RWMutex
	services   map[string]*NacosRemoteService
	registered string // 已注册的本机 IP，空表示未注册
}

func NewNacosManager(cfg *NacosConfig) (*NacosManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	param, err := cfg.clientParam()
	if err != nil {
		return nil, err
	}
	naming, err := clients.NewNamingClient(param)
	if err != nil {
		return nil, fmt.Errorf("create nacos naming client: %w", err)
	}

	m := &NacosManager{
		cfg:      cfg,
		naming:   naming,
		services: make(map[string]*NacosRemoteService, len(cfg.Clients)),
	}
	if cfg.watchEnabled() {
		if m.configClient, err = clients.NewConfigClient(param); err != nil {
			naming.CloseClient()
			return nil, fmt.Errorf("create nacos config client: %w", err)
		}
	}
	for _, c := range cfg.Clients {
		if err = m.subscribe(c); err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

//////////////////////////////////////////////////////////////////
// 实例注册

func (m *NacosManager) IsServerRegistered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registered != ""
}

// RegisterServer 未配置 server 或已注册时直接返回
func (m *NacosManager) RegisterServer() error {
	if m.cfg.Server == nil || m.IsServerRegistered() {
		return nil
	}
	ip, err := utils.GetLocalIP()
	if err != nil {
		return fmt.Errorf("get local ip: %w", err)
	}

	s := m.cfg.Server
	err = m.call("register", func() (bool, error) {
		return m.naming.RegisterInstance(vo.RegisterInstanceParam{
			Ip:          ip,
			Port:        s.Port,
			ServiceName: s.ServiceName,
			GroupName:   s.GroupName,
			Weight:      float64(s.Weight),
			Enable:      true,
			Healthy:     true,
			Ephemeral:   true,
		})
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.registered = ip
	m.mu.Unlock()
	logger.Infof("[Nacos] registered %s at %s:%d", s.ServiceName, ip, s.Port)
	return nil
}

func (m *NacosManager) DeregisterServer() error {
	m.mu.RLock()
	ip := m.registered
	m.mu.RUnlock()
	if m.cfg.Server == nil || ip == "" {
		return nil
	}

	s := m.cfg.Server
	err := m.call("deregister", func() (bool, error) {
		return m.naming.DeregisterInstance(vo.DeregisterInstanceParam{
			Ip:          ip,
			Port:        s.Port,
			ServiceName: s.ServiceName,
			GroupName:   s.GroupName,
			Ephemeral:   true,
		})
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.registered = ""
	m.mu.Unlock()
	logger.Infof("[Nacos] deregistered %s at %s:%d", s.ServiceName, ip, s.Port)
	return nil
}

// call SDK 返回 false 与返回错误同样重试
func (m *NacosManager) call(op string, fn func() (bool, error)) error {
	attempt := 0
	err := registerPolicy.Do(context.Background(), func(ctx context.Context) error {
		attempt++
		ok, err := fn()
		if err == nil && !ok {
			err = errRejected
		}
		if err != nil {
			logger.Warnf("[Nacos] %s attempt %d failed: %v", op, attempt, err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("nacos %s failed after %d attempts: %w", op, attempt, err)
	}
	return nil
}

//////////////////////////////////////////////////////////////////
// 服务发现

// GetRemoteServiceByID 未订阅时返回 nil
func (m *NacosManager) GetRemoteServiceByID(id string) *NacosRemoteService {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.services[id]
}

func (m *NacosManager) subscribe(c *NacosClientConfig) error {
	rs := NewNacosRemoteService(c.ServiceName, c.Scheme)
	m.mu.Lock()
	m.services[c.ID] = rs
	m.mu.Unlock()

	err := m.naming.Subscribe(&vo.SubscribeParam{
		ServiceName: c.ServiceName,
		GroupName:   c.GroupName,
		SubscribeCallback: func(all []model.Instance, err error) {
			if err != nil {
				logger.Warnf("[Nacos] %s subscribe callback: %v", c.ServiceName, err)
				return
			}
			healthy := usableInstances(all)
			rs.UpdateInstances(healthy)
			logger.Infof("[Nacos] %s: %d/%d usable instances", c.ServiceName, len(healthy), len(all))
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.ServiceName, err)
	}
	logger.Infof("[Nacos] subscribed %s as %q", c.ServiceName, c.ID)
	return nil
}

// usableInstances 只保留启用、健康且权重为正的实例
func usableInstances(all []model.Instance) []*model.Instance {
	out := make([]*model.Instance, 0, len(all))
	for i := range all {
		inst := all[i]
		if inst.Enable && inst.Healthy && inst.Weight > 0 {
			out = append(out, &inst)
		}
	}
	return out
}

//////////////////////////////////////////////////////////////////
// 配置监听

// WatchConfig 先回放当前配置再监听变更，onChange 在 SDK 回调线程中执行
func (m *NacosManager) WatchConfig(onChange func(data string)) error {
	if m.configClient == nil {
		return nil
	}
	dataID, group := m.cfg.Watch.DataId, m.cfg.Watch.group()

	if data, err := m.configClient.GetConfig(vo.ConfigParam{DataId: dataID, Group: group}); err != nil {
		logger.Warnf("[Nacos] get config %s/%s: %v", group, dataID, err)
	} else if data != "" {
		onChange(data)
	}

	err := m.configClient.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  group,
		OnChange: func(_, group, dataID, data string) {
			logger.Infof("[Nacos] config %s/%s changed (%d bytes)", group, dataID, len(data))
			onChange(data)
		},
	})
	if err != nil {
		return fmt.Errorf("listen config %s/%s: %w", group, dataID, err)
	}
	logger.Infof("[Nacos] watching config %s/%s", group, dataID)
	return nil
}

func (m *NacosManager) Close() {
	if m.configClient != nil {
		m.configClient.CloseClient()
	}
	m.naming.CloseClient()
}
