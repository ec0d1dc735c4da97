// Copyright 2026 AgentCouncil Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

/*
包 agent 定义会议参与者及其运行期支撑：角色配置、上下文快照与生命周期事件。

# 角色

AgentRole 是封闭集合，构建时通过 Roster 解析为 RoleProfile
（提示词、工具子集、基础权重、可选模型、是否投票），运行期不再按角色字符串分支。

# ReWOOAgent

ReWOOAgent 把 RoleProfile 绑定到 reasoning.Executor。一次 Respond 执行一个
Plan → Execute → Solve 回合，把回答解析为投票（角色投票时），并根据收件箱中
最近一条带方向的消息决定本条消息是 agreement 还是 disagreement。

# 事件

生命周期事件通过 types.EventSink 发出。ChannelSink 为进程内订阅者提供
非阻塞分发，LogSink 写结构化日志，KafkaSink 异步发布到 Kafka，MultiSink 组合多个输出。
*/
package agent
