// Package factory provides a centralized factory for creating LLM Provider
// instances by name. It imports the provider sub-packages and maps string
// names to their constructors, breaking the import cycle that would occur
// if this logic lived in the llm package directly.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/providers"
	"github.com/BaSui01/agentcouncil/llm/providers/gemini"
	"github.com/BaSui01/agentcouncil/llm/providers/openai"
)

// compatBaseURLs 是走 OpenAI Chat Completions 协议的服务商默认地址
var compatBaseURLs = map[string]string{
	"deepseek": "https://api.deepseek.com/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"kimi":     "https://api.moonshot.cn/v1",
	"glm":      "https://open.bigmodel.cn/api/paas/v4",
}

// NewProviderFromConfig creates a Provider instance based on the provider name.
//
// Supported names: openai, gemini, and the OpenAI-compatible deepseek, qwen,
// kimi, glm (base_url defaults to the vendor endpoint).
func NewProviderFromConfig(ctx context.Context, name string, cfg providers.Config, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch name := strings.ToLower(strings.TrimSpace(name)); name {
	case "openai":
		return openai.New(cfg, logger), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an api key")
		}
		return gemini.New(ctx, cfg, logger), nil
	default:
		base, ok := compatBaseURLs[name]
		if !ok {
			return nil, fmt.Errorf("unsupported provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = base
		}
		logger.Debug("using openai-compatible endpoint",
			zap.String("provider", name), zap.String("base_url", cfg.BaseURL))
		return openai.New(cfg, logger), nil
	}
}

// SupportedProviders returns the list of built-in provider names.
func SupportedProviders() []string {
	names := []string{"openai", "gemini"}
	compat := make([]string, 0, len(compatBaseURLs))
	for n := range compatBaseURLs {
		compat = append(compat, n)
	}
	sort.Strings(compat)
	return append(names, compat...)
}
