package types

import (
	"context"
	"time"
)

// EventType 生命周期事件类型
type EventType string

const (
	EventTurnStarted      EventType = "turn_started"
	EventTurnCompleted    EventType = "turn_completed"
	EventTurnFailed       EventType = "turn_failed"
	EventToolDispatched   EventType = "tool_dispatched"
	EventToolCompleted    EventType = "tool_completed"
	EventVoteRecorded     EventType = "vote_recorded"
	EventConsensusReached EventType = "consensus_reached"
	EventActionGated      EventType = "action_gated"
	EventActionRejected   EventType = "action_rejected"
	EventSessionState     EventType = "session_state"
)

// Event 是核心向宿主传输层发出的进度事件，不含任何传输细节
type Event struct {
	Type      EventType      `json:"event_type"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewEvent 创建带时间戳的事件
func NewEvent(t EventType, sessionID, agentID string, payload map[string]any) Event {
	return Event{Type: t, SessionID: sessionID, AgentID: agentID, Timestamp: time.Now(), Payload: payload}
}

// EventSink 接收生命周期事件。实现必须非阻塞或自带超时，
// 事件投递失败不能影响编排流程。
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc 函数适配器
type EventSinkFunc func(ctx context.Context, event Event)

func (f EventSinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NopSink 丢弃所有事件
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
