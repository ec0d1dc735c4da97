// Copyright (c) AgentCouncil Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentCouncil 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、safety、
reflection 等上层模块提供统一的数据契约，以避免循环依赖。

# 核心类型

  - Message / MessageType — 会话消息，创建后不可变，只追加到 MessageBus 历史
  - AgentRole             — 封闭的 Agent 角色枚举，在构建 Agent 时一次性解析
  - Direction             — 投票方向（交易：long/short/hold；投资：buy/pass/further_dd）
  - AgentVote             — 单个 Agent 在一轮会话中的投票
  - ConsensusResult       — 加权共识结果，包含每张票的有效权重与异议说明
  - SafetyDecision        — 安全闸门的判定结果
  - Error / ErrorCode     — 结构化错误体系，含 Retryable 标记与 Cause 链
*/
package types
