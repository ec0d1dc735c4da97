// Copyright 2026 AgentCouncil Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 AgentCouncil 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 日志辅助: ObservedLogger 捕获 zap 日志条目以便断言
  - 断言工具: AssertMessagesEqual / AssertEventuallyTrue
  - 数据工具: MustJSON / MustParseJSON / WaitFor / WaitForChannel

# 子包

  - testutil/mocks: MockProvider（按顺序编排的脚本响应、延迟与错误注入）、
    ToolRecorder 与故障注入工具（失败、超时、panic）
  - testutil/fixtures: 计划 JSON、投票回答与投票样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithReplies(fixtures.EmptyPlan, "answer")
	resp, err := provider.Completion(ctx, req)
*/
package testutil
