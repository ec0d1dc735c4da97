/*
包 consensus 把多个 Agent 的独立投票合成为一个 ConsensusResult。

有效权重 = WeightSource 中的学习权重 × 角色基础权重。某方向的聚合置信度为
该方向投票的加权置信度之和除以全部投票的权重之和。并列时依次比较：
是否为中性方向、投票数量、单票最高有效权重，最后按方向名字典序。

ParseVote 从模型自由文本中提取投票 JSON，解析失败时返回保守默认值
（中性方向，置信度 0）。
*/
package consensus
