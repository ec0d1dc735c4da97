// 版权所有 2026 AgentCouncil Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供圆桌会话日志的持久化存储与回放。

# 概述

一次会话的全部可回放状态由 SessionLog 描述：按顺序记录的消息历史、
最终投票、加权共识结果以及事后交易结果。上层通过 SessionStore
接口写入与加载，无需关心底层存储细节。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - SessionStore: 会话日志接口，支持追加消息、保存投票、共识与结果、
    按会话 ID 加载。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 每个会话一个目录，消息以 JSON Lines 追加写入，元数据原子替换，
    适合单节点部署。
  - Redis: 消息使用 List（RPUSH），投票、共识与结果保存在 Hash 字段中，
    适合分布式部署。

# 回放

Replay 从 SessionLog 重建消息历史与投票对象；NewRecorder 把存储适配为
消息总线的 Recorder，使每条写入历史的消息同步落盘。

# 使用方式

	store, err := persistence.NewSessionStore(cfg, cacheManager, logger)
	bus := collaboration.NewMessageBus(sessionID, logger,
	    collaboration.WithRecorder(persistence.NewRecorder(store, sessionID)))
*/
package persistence
