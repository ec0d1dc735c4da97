// Package config 提供 AgentCouncil 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的优先级加载，
// 覆盖日志、LLM、ReWOO 推理、会议、共识、反思、安全闸门、
// 会话存储以及 Redis、数据库、Kafka、遥测与 Sentry 等基础设施。
package config
