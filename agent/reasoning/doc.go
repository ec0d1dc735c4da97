// 版权所有 2026 AgentCouncil Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 reasoning 实现 Agent 单回合的 ReWOO 推理：Plan → Execute → Solve。

# 概述

一个回合只有两次 LLM 调用：Plan 阶段让模型一次性给出工具调用计划，
Execute 阶段并发执行全部合法步骤，Solve 阶段把计划与观察结果成对交给
模型生成最终分析。工具调用之间没有 LLM 往返。

# 计划解析

ParsePlan 依次尝试四种提取策略：```json 代码块、任意代码块、
文本中第一个括号平衡的顶层 JSON 数组、整个响应。步骤字段兼容常见别名
（step_index、tool_name、parameters、arguments、rationale）。
全部失败时调用方按空计划处理并记录原始响应。

# 失败语义

  - Plan 调用按 retry.PlanRetryPolicy 重试，耗尽后返回 types.ErrPlanFailed，
    这是回合唯一向上传播的错误。
  - 未知工具、缺少必填参数的步骤不会派发，直接成为失败观察。
  - 单个工具失败或超时只影响自己的观察；全部失败时回合标记 Degraded，
    Solve 提示中要求模型显式说明。
  - Solve 失败时基于观察结果拼出兜底回答并标记 Degraded。
  - 回合被取消时保留已完成的观察，以 PartialSolveTimeout 做一次部分 Solve。

# 可观测性

Executor 通过 types.EventSink 发出 tool_dispatched / tool_completed 事件，
通过 internal/metrics 记录 LLM、工具与计划解析指标，并为三个阶段开启 OTel Span。
*/
package reasoning
