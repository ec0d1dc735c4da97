// 版权所有 2026 AgentCouncil Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理命令行运行期间的后台 HTTP 服务器，目前用于暴露
Prometheus 指标。

Manager 封装 net/http.Server：Start 非阻塞地监听并服务，Shutdown
在配置的超时内排空请求，Errors 返回后台服务的异步错误。
NewMetricsManager 在 /metrics 挂载 promhttp 处理器，在 /healthz
返回存活状态。
*/
package server
