// Package tlsutil 集中管理出站连接的 TLS 设置：LLM 适配器的 HTTP 客户端与
// Redis 连接都从这里取配置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
