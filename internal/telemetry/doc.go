// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为推理执行器与会议编排提供 TracerProvider、MeterProvider 与命名 Tracer。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
