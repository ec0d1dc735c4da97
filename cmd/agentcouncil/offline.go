package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/agentcouncil/llm"
)

// =============================================================================
// 🧪 离线 Provider（llm.provider = mock）
// =============================================================================
// 不访问网络，按提示词内容给出确定性的回答，用于演示与冒烟测试。
// 规划阶段：列出了 get_klines 且上下文带 symbol 时调用一次 get_klines，否则不调用工具。
// 投票阶段：交易场景看 rsi_signal 与 price_vs_ema，投资场景看角色说明。
// 其余请求（leader 总结）：复述任务并给出简短结论。
// =============================================================================

const offlineProviderName = "offline"

var (
	symbolLine   = regexp.MustCompile(`(?m)^- symbol: *(\S+)`)
	rsiSignal    = regexp.MustCompile(`rsi_signal"?: *"?(overbought|oversold|neutral)`)
	priceVsEMA   = regexp.MustCompile(`price_vs_ema"?: *"?(above|below)`)
	taskLine     = regexp.MustCompile(`(?m)^Task: *(.+)$`)
	voteDirLabel = regexp.MustCompile(`<([a-z_]+(\|[a-z_]+)+)>`)
)

type offlineProvider struct{}

func newOfflineProvider() llm.Provider { return offlineProvider{} }

func (offlineProvider) Name() string { return offlineProviderName }

func (p offlineProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	system, user := splitPrompt(req.Messages)

	var content string
	switch {
	case strings.Contains(system, "planning stage"):
		content = offlinePlan(system, user)
	case voteDirLabel.MatchString(system):
		content = offlineVote(system, user)
	default:
		content = offlineSummary(user)
	}
	return &llm.ChatResponse{
		Provider:  offlineProviderName,
		Model:     req.Model,
		Content:   content,
		CreatedAt: time.Now(),
	}, nil
}

func splitPrompt(msgs []llm.Message) (system, user string) {
	var sys, usr []string
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		usr = append(usr, m.Content)
	}
	return strings.Join(sys, "\n"), strings.Join(usr, "\n")
}

func offlinePlan(system, user string) string {
	m := symbolLine.FindStringSubmatch(user)
	if m == nil || !strings.Contains(system, "- get_klines:") {
		return "[]"
	}
	step := []map[string]any{{
		"step":    1,
		"tool":    "get_klines",
		"params":  map[string]any{"symbol": m[1], "limit": 100},
		"purpose": "recent price action",
	}}
	data, _ := json.Marshal(step)
	return string(data)
}

type offlineBallot struct {
	Direction  string   `json:"direction"`
	Confidence int      `json:"confidence"`
	Rationale  string   `json:"rationale"`
	KeyFactors []string `json:"key_factors"`
}

func offlineVote(system, user string) string {
	options := strings.Split(voteDirLabel.FindStringSubmatch(system)[1], "|")

	var b offlineBallot
	if slices.Contains(options, "long") {
		b = tradingBallot(user)
	} else {
		b = investmentBallot(system)
	}
	if !slices.Contains(options, b.Direction) {
		b.Direction = options[len(options)-1]
	}

	data, _ := json.MarshalIndent(b, "", "  ")
	return fmt.Sprintf("Offline analysis based on the shared context.\n\n```json\n%s\n```", data)
}

func tradingBallot(user string) offlineBallot {
	rsi := ""
	if m := rsiSignal.FindStringSubmatch(user); m != nil {
		rsi = m[1]
	}
	ema := ""
	if m := priceVsEMA.FindStringSubmatch(user); m != nil {
		ema = m[1]
	}

	switch {
	case rsi == "oversold":
		return offlineBallot{"long", 70, "RSI is oversold, a rebound is likely.", []string{"rsi oversold"}}
	case rsi == "overbought":
		return offlineBallot{"short", 70, "RSI is overbought, a pullback is likely.", []string{"rsi overbought"}}
	case ema == "above":
		return offlineBallot{"long", 55, "Price trades above its EMA.", []string{"price above ema"}}
	case ema == "below":
		return offlineBallot{"short", 55, "Price trades below its EMA.", []string{"price below ema"}}
	default:
		return offlineBallot{"hold", 50, "No clear signal in the indicators.", nil}
	}
}

func investmentBallot(system string) offlineBallot {
	lower := strings.ToLower(system)
	switch {
	case strings.Contains(lower, "financial expert"):
		return offlineBallot{"buy", 65, "Unit economics look sound.", []string{"margins"}}
	case strings.Contains(lower, "market analyst"):
		return offlineBallot{"buy", 60, "The addressable market is growing.", []string{"market growth"}}
	case strings.Contains(lower, "founding team"):
		return offlineBallot{"further_dd", 55, "Team background needs reference checks.", []string{"team references"}}
	case strings.Contains(lower, "legal"):
		return offlineBallot{"further_dd", 50, "Contracts have not been reviewed yet.", []string{"contract review"}}
	default:
		return offlineBallot{"pass", 60, "Principal risks are not yet mitigated.", []string{"regulatory risk"}}
	}
}

func offlineSummary(user string) string {
	task := "the task"
	if m := taskLine.FindStringSubmatch(user); m != nil {
		task = strings.TrimSpace(m[1])
	}
	return fmt.Sprintf("Summary for %s: the committee reviewed the evidence and the votes above. "+
		"Follow the weighted consensus and respect the safety checks before acting.", task)
}
