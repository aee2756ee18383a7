package nacos

import (
	"errors"
	"fmt"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"net"
	"strconv"
	"strings"
)

// NacosServerConfig 本节点注册到 Nacos 的实例信息
type NacosServerConfig struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	GroupName   string `json:"group_name" yaml:"group_name"` // 默认 DEFAULT_GROUP
	Port        uint64 `json:"port" yaml:"port"`             // gRPC 健康检查端口
	Weight      int    `json:"weight" yaml:"weight"`
}

// NacosClientConfig 需要发现的下游服务（目前只有安全审计服务）
type NacosClientConfig struct {
	ID          string `json:"id" yaml:"id"` // 代码中引用的名字，对应 security.nacos_service
	ServiceName string `json:"service_name" yaml:"service_name"`
	GroupName   string `json:"group_name" yaml:"group_name"`
	Scheme      string `json:"scheme" yaml:"scheme"` // 默认 http
}

// NacosWatchConfig 层级开关所在的配置项
type NacosWatchConfig struct {
	DataId string `json:"data_id" yaml:"data_id"`
	Group  string `json:"group" yaml:"group"`
}

func (w *NacosWatchConfig) group() string {
	if w.Group == "" {
		return constant.DEFAULT_GROUP
	}
	return w.Group
}

type NacosConfig struct {
	Server              *NacosServerConfig   `json:"server" yaml:"server"`
	Clients             []*NacosClientConfig `json:"clients" yaml:"clients"`
	Watch               *NacosWatchConfig    `json:"watch" yaml:"watch"`
	Username            string               `json:"username" yaml:"username"`
	Password            string               `json:"password" yaml:"password"`
	TimeoutMs           int                  `json:"timeout_ms" yaml:"timeout_ms"`
	BeatIntervalMs      int                  `json:"beat_interval_ms" yaml:"beat_interval_ms"`
	NamespaceId         string               `json:"namespace_id" yaml:"namespace_id"`
	NotLoadCacheAtStart bool                 `json:"not_load_cache_at_start" yaml:"not_load_cache_at_start"`
	LogLevel            string               `json:"log_level" yaml:"log_level"`
	CacheDir            string               `json:"cache_dir" yaml:"cache_dir"`
	LogDir              string               `json:"log_dir" yaml:"log_dir"`
	Endpoint            string               `json:"endpoint" yaml:"endpoint"`             // 地址服务器，优先于 static_servers
	StaticServers       []string             `json:"static_servers" yaml:"static_servers"` // "ip:port"
}

func (c *NacosConfig) watchEnabled() bool {
	return c.Watch != nil && c.Watch.DataId != ""
}

// validate 检查下游服务 ID 唯一
func (c *NacosConfig) validate() error {
	seen := make(map[string]struct{}, len(c.Clients))
	for _, cli := range c.Clients {
		if cli.ID == "" || cli.ServiceName == "" {
			return errors.New("nacos client requires id and service_name")
		}
		if _, dup := seen[cli.ID]; dup {
			return fmt.Errorf("duplicate nacos client id %q", cli.ID)
		}
		seen[cli.ID] = struct{}{}
	}
	if c.Server != nil && (c.Server.ServiceName == "" || c.Server.Port == 0) {
		return errors.New("nacos server requires service_name and port")
	}
	return nil
}

func (c *NacosConfig) clientParam() (vo.NacosClientParam, error) {
	var servers []constant.ServerConfig
	if c.Endpoint == "" {
		if len(c.StaticServers) == 0 {
			return vo.NacosClientParam{}, errors.New("either endpoint or static_servers must be configured")
		}
		for _, s := range c.StaticServers {
			sc, err := parseStaticServer(s)
			if err != nil {
				return vo.NacosClientParam{}, err
			}
			servers = append(servers, sc)
		}
	}

	return vo.NacosClientParam{
		ClientConfig: &constant.ClientConfig{
			Endpoint:            c.Endpoint,
			NamespaceId:         c.NamespaceId,
			TimeoutMs:           uint64(c.TimeoutMs),
			BeatInterval:        int64(c.BeatIntervalMs),
			NotLoadCacheAtStart: c.NotLoadCacheAtStart,
			Username:            c.Username,
			Password:            c.Password,
			LogDir:              c.LogDir,
			CacheDir:            c.CacheDir,
			LogLevel:            c.LogLevel,
		},
		ServerConfigs: servers,
	}, nil
}

func parseStaticServer(s string) (constant.ServerConfig, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return constant.ServerConfig{}, fmt.Errorf("invalid static server %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return constant.ServerConfig{}, fmt.Errorf("invalid port in static server %q", s)
	}
	return constant.ServerConfig{IpAddr: host, Port: port, Scheme: "http"}, nil
}
