// Package broker 封装 Kafka 生产者，供生命周期事件与反思记录异步外发。
// This package is internal and should not be imported by external projects.
package broker
