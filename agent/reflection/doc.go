/*
包 reflection 根据已实现的结果调整 Agent 权重。

交易平仓或报告复核后，Engine 比较结果与当初的投票：赢得共识且方向正确的
Agent 加分，赢得共识但方向错误的 Agent 扣分，异议者默认不动（Policy 可开启
奖励正确异议）。加减分数值来自 Policy，不是写死的常量。

权重的上下限由 WeightStore 在 Adjust 内部钳制，Adjust 必须是原子的读改写：

  - MemoryWeightStore 用互斥锁，适合单进程与测试。
  - RedisWeightStore 用 Lua 脚本在一次往返内完成读取、相加、钳制与写回。

每次反思生成一条 Record，交给 Journal 异步写入（zap 日志、数据库或 Kafka），
写入失败只记日志，不影响权重调整。
*/
package reflection
