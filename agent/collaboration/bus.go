package collaboration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/types"
)

// ModeratorID 会议主持人的发送者 ID，用于注入任务与兜底总结，不接收消息
const ModeratorID = "moderator"

var (
	// ErrBusClosed 消息总线已关闭
	ErrBusClosed = errors.New("message bus is closed")
	// ErrUnknownAgent 发送者或接收者未注册
	ErrUnknownAgent = errors.New("agent not registered on bus")
)

// Recorder 在消息写入历史后被调用，用于会话持久化。
// 调用发生在历史锁内，保证记录顺序与历史一致，实现应尽快返回。
// 传入的 ctx 不随调用方取消，只受 RecordTimeout 限制：进入历史的消息必须落盘。
type Recorder interface {
	Record(ctx context.Context, msg types.Message) error
}

// RecorderFunc 把普通函数适配为 Recorder
type RecorderFunc func(ctx context.Context, msg types.Message) error

func (f RecorderFunc) Record(ctx context.Context, msg types.Message) error { return f(ctx, msg) }

type inbox struct {
	mu      sync.Mutex
	pending []types.Message
}

// MessageBus 在已注册的 Agent 之间投递消息，并维护只追加的有序历史。
// 历史追加由 histMu 串行化；每个收件箱有独立的锁，读取不同 Agent 的收件箱互不阻塞。
type MessageBus struct {
	sessionID string

	histMu  sync.Mutex
	history []types.Message

	regMu   sync.RWMutex
	inboxes map[string]*inbox
	order   []string
	system  map[string]bool

	recorder      Recorder
	recordTimeout time.Duration
	closed        atomic.Bool
	logger   *zap.Logger
}

// BusOption 消息总线可选项
type BusOption func(*MessageBus)

// WithRecorder 设置历史记录器
func WithRecorder(r Recorder) BusOption {
	return func(b *MessageBus) { b.recorder = r }
}

// DefaultRecordTimeout 单条消息落盘的时间上限
const DefaultRecordTimeout = 5 * time.Second

// WithRecordTimeout 设置单条消息落盘的时间上限
func WithRecordTimeout(d time.Duration) BusOption {
	return func(b *MessageBus) {
		if d > 0 {
			b.recordTimeout = d
		}
	}
}

// WithSystemSenders 允许未注册的系统身份发送消息（默认仅 ModeratorID）
func WithSystemSenders(ids ...string) BusOption {
	return func(b *MessageBus) {
		for _, id := range ids {
			b.system[id] = true
		}
	}
}

// NewMessageBus 创建会话消息总线
func NewMessageBus(sessionID string, logger *zap.Logger, opts ...BusOption) *MessageBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &MessageBus{
		sessionID:     sessionID,
		inboxes:       make(map[string]*inbox),
		system:        map[string]bool{ModeratorID: true},
		recordTimeout: DefaultRecordTimeout,
		logger:        logger.With(zap.String("component", "message_bus"), zap.String("session_id", sessionID)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register 注册 Agent，重复注册无副作用
func (b *MessageBus) Register(agentID string) {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	if _, ok := b.inboxes[agentID]; ok {
		return
	}
	b.inboxes[agentID] = &inbox{}
	b.order = append(b.order, agentID)
}

// Registered 返回按注册顺序排列的 Agent ID
func (b *MessageBus) Registered() []string {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	return append([]string(nil), b.order...)
}

// Send 追加消息到历史并投递。广播投递给除发送者外的所有已注册 Agent。
// 总线已关闭、发送者未注册或定向接收者未注册时返回 false，消息不进入历史。
func (b *MessageBus) Send(msg types.Message) bool {
	return b.SendContext(context.Background(), msg)
}

// SendContext 同 Send。ctx 的值（session id 等）传递给 Recorder，取消信号不传递
func (b *MessageBus) SendContext(ctx context.Context, msg types.Message) bool {
	if b.closed.Load() {
		b.logger.Debug("send on closed bus", zap.String("sender", msg.Sender))
		return false
	}

	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.SessionID == "" {
		msg.SessionID = b.sessionID
	}
	if msg.Recipient == "" {
		msg.Recipient = types.RecipientAll
	}

	b.regMu.RLock()
	defer b.regMu.RUnlock()

	if _, ok := b.inboxes[msg.Sender]; !ok && !b.system[msg.Sender] {
		b.logger.Warn("message from unregistered sender rejected", zap.String("sender", msg.Sender))
		return false
	}
	var targets []*inbox
	if msg.IsBroadcast() {
		for _, id := range b.order {
			if id != msg.Sender {
				targets = append(targets, b.inboxes[id])
			}
		}
	} else {
		box, ok := b.inboxes[msg.Recipient]
		if !ok {
			b.logger.Warn("message to unregistered recipient rejected",
				zap.String("sender", msg.Sender), zap.String("recipient", msg.Recipient))
			return false
		}
		targets = append(targets, box)
	}

	// 投递与追加在同一临界区内完成，收件箱顺序与历史顺序一致
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if b.closed.Load() {
		return false
	}
	b.history = append(b.history, msg)
	for _, box := range targets {
		box.mu.Lock()
		box.pending = append(box.pending, msg)
		box.mu.Unlock()
	}
	if b.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.recordTimeout)
		err := b.recorder.Record(recCtx, msg)
		cancel()
		if err != nil {
			b.logger.Error("record message failed", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}
	return true
}

// Messages 返回并清空 Agent 的待处理消息；未注册的 Agent 返回 nil
func (b *MessageBus) Messages(agentID string) []types.Message {
	b.regMu.RLock()
	box, ok := b.inboxes[agentID]
	b.regMu.RUnlock()
	if !ok {
		return nil
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	out := box.pending
	box.pending = nil
	return out
}

// Pending 返回 Agent 待处理消息数，不清空
func (b *MessageBus) Pending(agentID string) int {
	b.regMu.RLock()
	box, ok := b.inboxes[agentID]
	b.regMu.RUnlock()
	if !ok {
		return 0
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	return len(box.pending)
}

// History 返回完整历史的副本
func (b *MessageBus) History() []types.Message {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]types.Message, len(b.history))
	for i, m := range b.history {
		out[i] = m.Clone()
	}
	return out
}

// Len 返回历史消息数
func (b *MessageBus) Len() int {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	return len(b.history)
}

// Close 关闭总线，之后的 Send 返回 false；历史仍可读取
func (b *MessageBus) Close() {
	b.closed.Store(true)
}

// Closed 报告总线是否已关闭
func (b *MessageBus) Closed() bool {
	return b.closed.Load()
}
