package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentcouncil/agent/reflection"
	"github.com/BaSui01/agentcouncil/types"
)

// MemorySessionStore 是 SessionStore 的内存实现。
// 适合开发和测试，数据在重新启动时丢失。
type MemorySessionStore struct {
	sessions map[string]*SessionLog
	mu       sync.RWMutex
	closed   bool
	now      func() time.Time
}

// NewMemorySessionStore 创建内存会话存储
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*SessionLog),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close 关闭存储
func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *MemorySessionStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// update 在写锁内取出（必要时创建）会话并应用修改
func (s *MemorySessionStore) update(sessionID string, fn func(l *SessionLog)) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	now := s.now()
	l, ok := s.sessions[sessionID]
	if !ok {
		l = &SessionLog{SessionID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = l
	}
	fn(l)
	l.UpdatedAt = now
	return nil
}

// AppendMessage 追加一条消息
func (s *MemorySessionStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	return s.update(sessionID, func(l *SessionLog) {
		l.Messages = append(l.Messages, msg.Clone())
	})
}

// SaveVotes 覆盖保存最终投票
func (s *MemorySessionStore) SaveVotes(ctx context.Context, sessionID string, votes []types.AgentVote) error {
	return s.update(sessionID, func(l *SessionLog) {
		l.Votes = cloneVotes(votes)
	})
}

// SaveConsensus 保存共识结果
func (s *MemorySessionStore) SaveConsensus(ctx context.Context, sessionID string, result types.ConsensusResult) error {
	return s.update(sessionID, func(l *SessionLog) {
		l.Consensus = &result
	})
}

// SaveOutcome 保存交易结果
func (s *MemorySessionStore) SaveOutcome(ctx context.Context, sessionID string, outcome reflection.Outcome) error {
	return s.update(sessionID, func(l *SessionLog) {
		l.Outcome = &outcome
	})
}

// Load 返回会话日志的副本
func (s *MemorySessionStore) Load(ctx context.Context, sessionID string) (*SessionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	l, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneLog(l), nil
}
