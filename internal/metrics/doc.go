// Copyright (c) AgentCouncil Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的编排核心指标采集能力，覆盖
LLM 调用、ReWOO 回合、工具调用、会话共识与安全闸门五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制；默认注册到全局 Registry，也可传入自定义 Registerer。
所有指标按 namespace 隔离，便于 Grafana 等工具进行可视化与告警。

# 主要能力

  - LLM 指标：请求总数、耗时、Token 用量，按 provider/phase 分组
  - 回合指标：按角色统计 success/degraded/failed 回合与耗时
  - 计划解析：按提取策略（json_fence/any_fence/bracket/raw/failed）计数
  - 工具指标：调用总数与耗时，按 tool/status 分组
  - 共识与权重：胜出方向计数、聚合置信度分布、Agent 权重 Gauge
  - 安全闸门：按检查项统计 allowed/rejected
*/
package metrics
