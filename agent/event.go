package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/types"
)

// subscriptionCounter 用于生成唯一订阅 ID，替代 time.Now().UnixNano() 避免并发碰撞
var subscriptionCounter int64

// EventHandler 事件处理器
type EventHandler func(types.Event)

// ChannelSink 基于缓冲通道的事件分发器。
// Emit 从不阻塞调用方：通道满时丢弃事件并计数，宿主传输层（WebSocket、日志流）
// 通过 Subscribe 接收事件，处理器在单个分发协程中按发出顺序调用。
type ChannelSink struct {
	mu           sync.RWMutex
	handlers     map[types.EventType]map[string]EventHandler
	all          map[string]EventHandler
	eventChannel chan types.Event
	done         chan struct{}
	stopped      chan struct{}
	stopOnce     sync.Once
	dropped      atomic.Int64
	logger       *zap.Logger
}

// NewChannelSink 创建事件分发器，buffer <= 0 时使用 100
func NewChannelSink(buffer int, logger *zap.Logger) *ChannelSink {
	if buffer <= 0 {
		buffer = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ChannelSink{
		handlers:     make(map[types.EventType]map[string]EventHandler),
		all:          make(map[string]EventHandler),
		eventChannel: make(chan types.Event, buffer),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		logger:       logger.With(zap.String("component", "event_sink")),
	}
	go s.processEvents()
	return s
}

// Emit 发布事件
func (s *ChannelSink) Emit(_ context.Context, event types.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.eventChannel <- event:
	case <-s.done:
	default:
		// 如果通道满了，丢弃事件
		s.dropped.Add(1)
		s.logger.Debug("event dropped, channel full", zap.String("event_type", string(event.Type)))
	}
}

// Subscribe 订阅指定类型的事件；eventType 为空表示订阅全部事件
func (s *ChannelSink) Subscribe(eventType types.EventType, handler EventHandler) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	if eventType == "" {
		s.all[id] = handler
		return id
	}
	if s.handlers[eventType] == nil {
		s.handlers[eventType] = make(map[string]EventHandler)
	}
	s.handlers[eventType][id] = handler
	return id
}

// Unsubscribe 取消订阅
func (s *ChannelSink) Unsubscribe(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.all[subscriptionID]; ok {
		delete(s.all, subscriptionID)
		return
	}
	for eventType, handlers := range s.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(s.handlers, eventType)
			}
			return
		}
	}
}

// Dropped 返回因通道已满被丢弃的事件数
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// processEvents 处理事件
func (s *ChannelSink) processEvents() {
	defer close(s.stopped)
	for {
		select {
		case event := <-s.eventChannel:
			s.dispatch(event)
		case <-s.done:
			// 排空已入队的事件后退出
			for {
				select {
				case event := <-s.eventChannel:
					s.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (s *ChannelSink) dispatch(event types.Event) {
	s.mu.RLock()
	src := s.handlers[event.Type]
	handlers := make([]EventHandler, 0, len(src)+len(s.all))
	for _, h := range src {
		handlers = append(handlers, h)
	}
	for _, h := range s.all {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		s.invoke(h, event)
	}
}

func (s *ChannelSink) invoke(h EventHandler, event types.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked", zap.Any("recover", r))
		}
	}()
	h(event)
}

// Stop 停止分发并等待已入队事件处理完毕
func (s *ChannelSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
}

// LogSink 把生命周期事件写入结构化日志
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志事件输出
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "lifecycle"))}
}

// Emit 输出事件
func (s *LogSink) Emit(_ context.Context, event types.Event) {
	fields := []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.AgentID != "" {
		fields = append(fields, zap.String("agent_id", event.AgentID))
	}
	if len(event.Payload) > 0 {
		fields = append(fields, zap.Any("payload", event.Payload))
	}

	switch event.Type {
	case types.EventTurnFailed, types.EventActionRejected:
		s.logger.Warn("lifecycle event", fields...)
	case types.EventToolDispatched, types.EventToolCompleted:
		s.logger.Debug("lifecycle event", fields...)
	default:
		s.logger.Info("lifecycle event", fields...)
	}
}

// MultiSink 把事件依次转发给多个输出
type MultiSink []types.EventSink

// Emit 转发事件
func (m MultiSink) Emit(ctx context.Context, event types.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

var (
	_ types.EventSink = (*ChannelSink)(nil)
	_ types.EventSink = (*LogSink)(nil)
	_ types.EventSink = MultiSink(nil)
)
