package sentinel

import (
	"dex-pool-sentinel/internal/sentinel/alert"
	"fmt"
	"gopkg.in/yaml.v3"
	"strings"
)

// tierToggles Nacos 配置中心下发的层级开关，例如：
//
//	tiers:
//	  sniper: false
//	  trade: true
type tierToggles struct {
	Tiers map[string]bool `yaml:"tiers"`
}

// ParseTierToggles 解析开关配置；空内容返回空结果，未知层级报错且整体不生效
func ParseTierToggles(data string) (map[alert.Tier]bool, error) {
	out := make(map[alert.Tier]bool)
	if strings.TrimSpace(data) == "" {
		return out, nil
	}

	var doc tierToggles
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("parse tier toggles: %w", err)
	}
	for name, on := range doc.Tiers {
		tier, err := alert.ParseTier(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", name, err)
		}
		out[tier] = on
	}
	return out, nil
}
