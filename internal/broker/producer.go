package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("broker: producer closed")

// Writer 是 kafka.Writer 的最小接口，便于测试替换
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 以 JSON 形式向主题发布消息
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// Config Kafka 生产者配置
type Config struct {
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	Async        bool          `yaml:"async" json:"async"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Async:        false,
		WriteTimeout: 5 * time.Second,
	}
}

// Producer 按主题懒加载 Writer
type Producer struct {
	mu        sync.Mutex
	writers   map[string]Writer
	newWriter func(topic string) Writer
	timeout   time.Duration
	closed    bool
	logger    *zap.Logger
}

// NewProducer 创建连接真实 Kafka 集群的生产者
func NewProducer(cfg Config, logger *zap.Logger) *Producer {
	brokers := append([]string(nil), cfg.Brokers...)
	return NewProducerWithWriter(func(topic string) Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        cfg.Async,
			WriteTimeout: cfg.WriteTimeout,
		}
	}, cfg.WriteTimeout, logger)
}

// NewProducerWithWriter 使用自定义 Writer 工厂创建生产者
func NewProducerWithWriter(newWriter func(topic string) Writer, timeout time.Duration, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultConfig().WriteTimeout
	}
	return &Producer{
		writers:   make(map[string]Writer),
		newWriter: newWriter,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "kafka_producer")),
	}
}

func (p *Producer) writer(topic string) (Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProducerClosed
	}
	if w, ok := p.writers[topic]; ok {
		return w, nil
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w, nil
}

// Publish 序列化 value 并写入主题，key 决定分区
func (p *Producer) Publish(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("broker: marshal %s message: %w", topic, err)
	}
	w, err := p.writer(topic)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Time: time.Now()}); err != nil {
		p.logger.Error("publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("broker: publish to %s: %w", topic, err)
	}
	p.logger.Debug("published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Close 关闭所有 Writer
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Error("close writer failed", zap.String("topic", topic), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Publisher = (*Producer)(nil)
