// Package circuitbreaker 为 LLM Provider 提供熔断保护。
//
// 连续失败达到阈值后进入 open 状态，在 ResetTimeout 内直接拒绝请求；
// 之后进入 half_open，放行少量试探请求，成功则恢复，失败则重新熔断。
// 无效请求与调用方取消不计入失败。
package circuitbreaker
