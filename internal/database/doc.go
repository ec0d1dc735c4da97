// 版权所有 2026 AgentCouncil Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开 GORM 数据库并管理连接池。

Open 按驱动名选择方言（postgres、mysql 或纯 Go 的 sqlite），
PoolManager 负责连接池参数、后台健康检查与事务执行。
反思日志的数据库实现通过 WithTransactionRetry 写入记录，
死锁、序列化失败与 sqlite 的 "database is locked" 会按指数退避重试。
*/
package database
