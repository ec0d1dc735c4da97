package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/BaSui01/agentcouncil/internal/tlsutil"
	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/providers"
	"github.com/BaSui01/agentcouncil/types"
)

const (
	providerName = "gemini"
	defaultModel = "gemini-2.5-flash"
)

// Provider Gemini 适配器
type Provider struct {
	cfg     providers.Config
	client  *genai.Client
	initErr error
	logger  *zap.Logger
}

// New 创建 Provider。客户端初始化失败不会 panic，错误在首次调用时返回。
func New(ctx context.Context, cfg providers.Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}
	p := &Provider{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", providerName)),
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: tlsutil.SecureHTTPClient(timeout),
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		p.initErr = err
		p.logger.Error("failed to initialize genai client", zap.Error(err))
		return p
	}
	p.client = client
	return p
}

func (p *Provider) Name() string { return providerName }

// Completion 实现 llm.Provider
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.initErr != nil {
		return nil, types.WrapError(types.ErrProviderUnavailable, "gemini client not initialized", p.initErr).
			WithProvider(providerName)
	}

	contents, system := BuildContents(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		config.Temperature = &temp
	}

	model := providers.ChooseModel(req.Model, p.cfg.Model, defaultModel)
	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, p.mapError(ctx, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "gemini returned no candidates").
			WithRetryable(true).WithProvider(providerName)
	}

	out := &llm.ChatResponse{
		Provider:  providerName,
		Model:     model,
		Content:   resp.Text(),
		CreatedAt: time.Now(),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	p.logger.Debug("completion finished",
		zap.String("model", model),
		zap.String("trace_id", req.TraceID),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))
	return out, nil
}

func (p *Provider) mapError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.Code, apiErr.Message, providerName).WithCause(err)
	}
	if ctx.Err() != nil {
		return err
	}
	return types.WrapError(types.ErrUpstreamError, fmt.Sprintf("gemini request failed: %v", err), err).
		WithRetryable(true).WithProvider(providerName)
}

// BuildContents 把通用消息转换为 Gemini 的 contents 与 system 指令
func BuildContents(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	rest := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}

	mapped := llm.MapTwoRoles(rest, llm.RoleModel)
	contents := make([]*genai.Content, 0, len(mapped))
	for _, m := range mapped {
		var role genai.Role = genai.RoleUser
		if m.Role == llm.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents, strings.Join(system, "\n\n")
}
