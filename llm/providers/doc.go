// Copyright (c) AgentCouncil Authors.
// Licensed under the MIT License.

/*
# 概述

包 providers 是具体 LLM 服务商适配器的公共基础层。子包 openai 与 gemini
分别基于官方 SDK 实现 llm.Provider，本包负责共享配置与错误映射。

# 核心类型

  - Config — 所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout）

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为带 Retryable 标记的 types.Error
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
