// Copyright (c) AgentCouncil Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentCouncil 命令行程序入口。

# 概述

cmd/agentcouncil 加载 YAML 配置与环境变量，装配日志、遥测、错误上报、
LLM Provider 与存储后端，然后执行子命令：

  - roundtable：召集交易或投资委员会会议，按加权投票得出共识，
    交易场景下再经安全闸门检查，结果以 JSON 输出到 stdout
  - replay：按追加顺序打印已持久化的会话历史、投票与共识
  - reflect：用实际盈亏回灌 Agent 权重，并写入反思记录
  - version：打印构建信息

# 离线模式

llm.provider 设为 mock 时使用内置的确定性 Provider，不访问网络，
适合演示与冒烟测试。交易场景的行情来自确定性的合成 K 线。

# 错误输出

子命令失败时只打印脱敏后的消息与 reference id，完整错误写入日志，
配置了 sentry.dsn 时同时上报 Sentry。
*/
package main
