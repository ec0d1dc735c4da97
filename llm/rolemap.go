package llm

import (
	"context"
	"strings"
)

// TwoRoleProvider 把内部的 system/assistant/tool 角色映射到只认识两种角色的
// Provider 词汇（常见为 "user" 与 "model"）。
//
// 规则：
//   - system 内容并入紧随其后的第一条 user 消息之前
//   - assistant 映射为 AssistantRole
//   - tool 结果作为 user 消息提交
//   - 相邻同角色消息合并，保证严格交替
type TwoRoleProvider struct {
	inner         Provider
	assistantRole Role
}

// NewTwoRoleProvider 包装 inner；assistantRole 为空时使用 RoleModel
func NewTwoRoleProvider(inner Provider, assistantRole Role) *TwoRoleProvider {
	if assistantRole == "" {
		assistantRole = RoleModel
	}
	return &TwoRoleProvider{inner: inner, assistantRole: assistantRole}
}

func (p *TwoRoleProvider) Name() string { return p.inner.Name() }

func (p *TwoRoleProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	mapped := *req
	mapped.Messages = MapTwoRoles(req.Messages, p.assistantRole)
	return p.inner.Completion(ctx, &mapped)
}

// MapTwoRoles 执行角色映射，不修改入参切片
func MapTwoRoles(messages []Message, assistantRole Role) []Message {
	if assistantRole == "" {
		assistantRole = RoleModel
	}
	out := make([]Message, 0, len(messages))
	var pendingSystem []string

	appendMsg := func(role Role, content string) {
		if role == RoleUser && len(pendingSystem) > 0 {
			content = strings.Join(pendingSystem, "\n\n") + "\n\n" + content
			pendingSystem = nil
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			return
		}
		out = append(out, Message{Role: role, Content: content})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				pendingSystem = append(pendingSystem, m.Content)
			}
		case RoleAssistant, RoleModel:
			appendMsg(assistantRole, m.Content)
		case RoleTool:
			appendMsg(RoleUser, m.Content)
		default:
			appendMsg(RoleUser, m.Content)
		}
	}

	// 只有 system 内容时也要交给模型
	if len(pendingSystem) > 0 {
		trailing := strings.Join(pendingSystem, "\n\n")
		pendingSystem = nil
		appendMsg(RoleUser, trailing)
	}

	// 对话必须以 user 开头
	if len(out) > 0 && out[0].Role != RoleUser {
		out = append([]Message{{Role: RoleUser, Content: "Continue."}}, out...)
	}
	return out
}
