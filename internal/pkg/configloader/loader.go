package configloader

import (
	"bytes"
	"fmt"
	"gopkg.in/yaml.v3"
	"os"
)

// LoadConfig 读取 yaml 配置文件，支持 ${ENV} 形式的环境变量替换
func LoadConfig(file string, v any) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read config %s: %w", file, err)
	}
	return LoadFromBytes(raw, v)
}

// LoadFromBytes 解析 yaml 内容，未知字段视为错误
func LoadFromBytes(raw []byte, v any) error {
	expanded := os.ExpandEnv(string(raw))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode yaml config: %w", err)
	}
	return nil
}
