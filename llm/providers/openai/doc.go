// Package openai 基于 openai-go SDK 实现 llm.Provider，走 Chat Completions 接口。
// 兼容所有 OpenAI 协议的网关（通过 BaseURL 指定）。
package openai
