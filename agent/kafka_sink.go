package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/broker"
	"github.com/BaSui01/agentcouncil/types"
)

// KafkaSink 把生命周期事件异步发布到 Kafka 主题，消息 key 为会话 ID，
// 同一会话的事件落在同一分区内保持顺序。
type KafkaSink struct {
	publisher broker.Publisher
	topic     string
	queue     chan types.Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Int64
	failed    atomic.Int64
	logger    *zap.Logger
}

// NewKafkaSink 创建 Kafka 事件输出并启动发布协程
func NewKafkaSink(publisher broker.Publisher, topic string, buffer int, logger *zap.Logger) *KafkaSink {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &KafkaSink{
		publisher: publisher,
		topic:     topic,
		queue:     make(chan types.Event, buffer),
		done:      make(chan struct{}),
		logger:    logger.With(zap.String("component", "kafka_event_sink"), zap.String("topic", topic)),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Emit 入队事件，队列满时丢弃
func (s *KafkaSink) Emit(_ context.Context, event types.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
	}
}

func (s *KafkaSink) run() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.queue:
			s.publish(event)
		case <-s.done:
			for {
				select {
				case event := <-s.queue:
					s.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaSink) publish(event types.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, s.topic, event.SessionID, event); err != nil {
		s.failed.Add(1)
		s.logger.Warn("publish lifecycle event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

// Close 发布完队列中剩余事件后返回
func (s *KafkaSink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// Stats 返回被丢弃与发布失败的事件数
func (s *KafkaSink) Stats() (dropped, failed int64) {
	return s.dropped.Load(), s.failed.Load()
}

var _ types.EventSink = (*KafkaSink)(nil)
