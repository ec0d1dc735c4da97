// 版权所有 2026 AgentCouncil Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理共享的 Redis 连接。

Manager 负责客户端的创建、健康检查与关闭，并统一键前缀。
reflection.RedisWeightStore 与 persistence.RedisSessionStore 都从
Manager 取得客户端，因此同一进程只维护一个连接池。

  - Key：按 "<prefix>part:part" 拼接键。
  - GetJSON / SetJSON：JSON 读写，键不存在时返回 ErrCacheMiss。
  - 健康检查：后台定时 Ping，失败时输出 Error 日志，Close 时退出。
*/
package cache
