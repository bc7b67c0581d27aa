package chains

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EndpointDefinitions models the structure of configs/chains.yaml.
type EndpointDefinitions struct {
	Chains map[string]EndpointDefinition `yaml:"chains"`
}

// EndpointDefinition describes the RPC endpoint for a single chain.
type EndpointDefinition struct {
	RPCURL      string `yaml:"rpc_url"`
	WSURL       string `yaml:"ws_url"`
	Description string `yaml:"description"`
}

// LoadEndpointDefinitions parses the YAML file containing chain endpoints.
// Keys must belong to the closed chain enumeration; an unknown key is a
// configuration error, not a runtime one.
func LoadEndpointDefinitions(path string) (map[Chain]EndpointDefinition, error) {
	if strings.TrimSpace(path) == "" {
		return map[Chain]EndpointDefinition{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs EndpointDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析链配置失败: %w", err)
	}

	endpoints := make(map[Chain]EndpointDefinition, len(defs.Chains))
	for name, def := range defs.Chains {
		chain, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("链配置包含未知标识 %s: %w", name, err)
		}
		if strings.TrimSpace(def.RPCURL) == "" {
			return nil, fmt.Errorf("链 %s 未配置 rpc_url", name)
		}
		endpoints[chain] = def
	}
	return endpoints, nil
}
