package nacos

import (
	"errors"
	"fmt"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"math/rand"
	"sync"
)

var ErrNoInstance = errors.New("nacos: no available instance")

// NacosRemoteService 代表单个远程 HTTP 服务的健康实例列表
type NacosRemoteService struct {
	serviceName string
	scheme      string

	mu        sync.RWMutex
	instances []*model.Instance // 当前健康实例列表
}

// NewNacosRemoteService 创建新的远程服务封装，scheme 为空时使用 http
func NewNacosRemoteService(serviceName, scheme string) *NacosRemoteService {
	if scheme == "" {
		scheme = "http"
	}
	return &NacosRemoteService{
		serviceName: serviceName,
		scheme:      scheme,
	}
}

func (s *NacosRemoteService) ServiceName() string {
	return s.serviceName
}

func (s *NacosRemoteService) instanceAddr(inst *model.Instance) string {
	return fmt.Sprintf("%s:%d", inst.Ip, inst.Port)
}

func (s *NacosRemoteService) UpdateInstances(instances []*model.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = instances
}

func (s *NacosRemoteService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// BaseURL 按权重随机选择一个实例，返回 "scheme://ip:port"
func (s *NacosRemoteService) BaseURL() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.instances)
	if n == 0 {
		return "", fmt.Errorf("%w for service %s", ErrNoInstance, s.serviceName)
	}
	inst := s.instances[0]
	if n > 1 {
		inst = pickWeighted(s.instances)
	}
	return fmt.Sprintf("%s://%s", s.scheme, s.instanceAddr(inst)), nil
}

func pickWeighted(instances []*model.Instance) *model.Instance {
	var total float64
	for _, inst := range instances {
		total += inst.Weight
	}
	if total <= 0 {
		return instances[rand.Intn(len(instances))]
	}
	r := rand.Float64() * total
	for _, inst := range instances {
		r -= inst.Weight
		if r < 0 {
			return inst
		}
	}
	return instances[len(instances)-1]
}
