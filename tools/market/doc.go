// Package market 提供交易圆桌使用的行情工具：
// get_klines 从 KlineSource 拉取 K 线，calc_indicators 基于收盘价计算 RSI、MACD 与 EMA。
package market
