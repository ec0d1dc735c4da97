// Package collaboration 驱动多 Agent 圆桌会议：MessageBus 负责消息投递与有序历史，
// Meeting 按状态机推进回合、收集投票，并在结束时由 leader 生成会议总结。
//
// 单个 Agent 的回合失败只会记为一条 thinking 消息，会议继续；
// 只有整轮全部失败且没有任何投票时会议进入 ERROR。
package collaboration
