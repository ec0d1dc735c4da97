package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/tlsutil"
	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/providers"
	"github.com/BaSui01/agentcouncil/types"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4o"
)

// Provider OpenAI Chat Completions 适配器
type Provider struct {
	cfg    providers.Config
	client openai.Client
	logger *zap.Logger
}

// New 创建 Provider。SDK 自带的重试被关闭，重试统一由 llm/retry 负责。
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(tlsutil.SecureHTTPClient(timeout)),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &Provider{
		cfg:    cfg,
		client: openai.NewClient(opts...),
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", providerName)),
	}
}

func (p *Provider) Name() string { return providerName }

// Completion 实现 llm.Provider
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: buildMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Opt(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Opt(float64(req.Temperature))
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.mapError(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "openai returned no choices").
			WithRetryable(true).WithProvider(providerName)
	}

	p.logger.Debug("completion finished",
		zap.String("model", resp.Model),
		zap.String("trace_id", req.TraceID),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))

	return &llm.ChatResponse{
		ID:       resp.ID,
		Provider: providerName,
		Model:    resp.Model,
		Content:  resp.Choices[0].Message.Content,
		Usage: llm.ChatUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}, nil
}

func (p *Provider) mapError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.StatusCode, apiErr.Message, providerName).WithCause(err)
	}
	if ctx.Err() != nil {
		return err
	}
	// 网络层错误视为瞬时错误
	return types.WrapError(types.ErrUpstreamError, fmt.Sprintf("openai request failed: %v", err), err).
		WithRetryable(true).WithProvider(providerName)
}

func buildMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant, llm.RoleModel:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			assistant.Content.OfString = openai.String(m.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			// 不带 tool_call_id 的工具结果按用户消息提交
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
