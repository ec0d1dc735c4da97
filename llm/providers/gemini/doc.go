// Package gemini 基于 google.golang.org/genai 实现 llm.Provider。
// Gemini 只接受 user/model 两种角色：system 文本进入 SystemInstruction，
// 其余消息经 llm.MapTwoRoles 映射为严格交替的 user/model 序列。
package gemini
