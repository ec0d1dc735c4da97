package providers

import (
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentcouncil/types"
)

// Config Provider 基础配置
type Config struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// MapHTTPError 将 HTTP 状态码映射为语义化的 types.Error
func MapHTTPError(status int, msg string, provider string) *types.Error {
	msg = strings.TrimSpace(msg)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return types.NewError(types.ErrInvalidRequest, msg).WithProvider(provider)
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithRetryable(true).WithProvider(provider)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true).WithProvider(provider)
	case status == http.StatusBadRequest, status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		return types.NewError(types.ErrInvalidRequest, msg).WithProvider(provider)
	case status == 529: // 部分服务商用于模型过载
		return types.NewError(types.ErrProviderUnavailable, msg).WithRetryable(true).WithProvider(provider)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500 || status == 0).WithProvider(provider)
	}
}

// ChooseModel 按优先级选择模型
func ChooseModel(requested, configured, fallback string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	if m := strings.TrimSpace(configured); m != "" {
		return m
	}
	return fallback
}
