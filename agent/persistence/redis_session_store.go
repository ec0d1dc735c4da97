package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent/reflection"
	"github.com/BaSui01/agentcouncil/internal/cache"
	"github.com/BaSui01/agentcouncil/types"
)

// Hash fields of the session meta key
const (
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldVotes     = "votes"
	fieldConsensus = "consensus"
	fieldOutcome   = "outcome"
)

// RedisSessionStore is a Redis-based implementation of SessionStore.
//
// Layout (prefix comes from cache.Manager):
//
//	<prefix>session:<id>           hash: created_at, updated_at, votes, consensus, outcome
//	<prefix>session:<id>:messages  list: JSON encoded messages in append order
type RedisSessionStore struct {
	mgr    *cache.Manager
	client *redis.Client
	logger *zap.Logger
}

// NewRedisSessionStore creates a session store on top of the shared cache manager
func NewRedisSessionStore(mgr *cache.Manager, logger *zap.Logger) (*RedisSessionStore, error) {
	if mgr == nil {
		return nil, fmt.Errorf("%w: nil cache manager", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSessionStore{
		mgr:    mgr,
		client: mgr.Client(),
		logger: logger.With(zap.String("component", "redis_session_store")),
	}, nil
}

func (s *RedisSessionStore) metaKey(sessionID string) string {
	return s.mgr.Key("session", sessionID)
}

func (s *RedisSessionStore) messagesKey(sessionID string) string {
	return s.mgr.Key("session", sessionID, "messages")
}

// Close is a no-op: the cache manager owns the connection.
func (s *RedisSessionStore) Close() error { return nil }

// Ping checks the Redis connection
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.mgr.Ping(ctx)
}

// write runs the given commands in a MULTI block together with the
// timestamp bookkeeping and TTL refresh.
func (s *RedisSessionStore) write(ctx context.Context, sessionID string, fn func(pipe redis.Pipeliner)) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	metaKey := s.metaKey(sessionID)
	msgKey := s.messagesKey(sessionID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, metaKey, fieldCreatedAt, now)
		fn(pipe)
		pipe.HSet(ctx, metaKey, fieldUpdatedAt, now)
		if ttl := s.mgr.TTL(); ttl > 0 {
			pipe.Expire(ctx, metaKey, ttl)
			pipe.Expire(ctx, msgKey, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis session write %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisSessionStore) saveField(ctx context.Context, sessionID, field string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	return s.write(ctx, sessionID, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, s.metaKey(sessionID), field, data)
	})
}

// AppendMessage RPUSHes the JSON encoded message
func (s *RedisSessionStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.write(ctx, sessionID, func(pipe redis.Pipeliner) {
		pipe.RPush(ctx, s.messagesKey(sessionID), data)
	})
}

// SaveVotes replaces the final votes
func (s *RedisSessionStore) SaveVotes(ctx context.Context, sessionID string, votes []types.AgentVote) error {
	if votes == nil {
		votes = []types.AgentVote{}
	}
	return s.saveField(ctx, sessionID, fieldVotes, votes)
}

// SaveConsensus stores the consensus result
func (s *RedisSessionStore) SaveConsensus(ctx context.Context, sessionID string, result types.ConsensusResult) error {
	return s.saveField(ctx, sessionID, fieldConsensus, result)
}

// SaveOutcome stores the trade outcome
func (s *RedisSessionStore) SaveOutcome(ctx context.Context, sessionID string, outcome reflection.Outcome) error {
	return s.saveField(ctx, sessionID, fieldOutcome, outcome)
}

// Load reads the meta hash and the message list
func (s *RedisSessionStore) Load(ctx context.Context, sessionID string) (*SessionLog, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	var (
		metaCmd *redis.MapStringStringCmd
		msgCmd  *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.HGetAll(ctx, s.metaKey(sessionID))
		msgCmd = pipe.LRange(ctx, s.messagesKey(sessionID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis session load %s: %w", sessionID, err)
	}
	meta := metaCmd.Val()
	raw := msgCmd.Val()
	if len(meta) == 0 && len(raw) == 0 {
		return nil, ErrSessionNotFound
	}

	log := &SessionLog{SessionID: sessionID, Messages: make([]types.Message, 0, len(raw))}
	for i, item := range raw {
		var msg types.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.logger.Warn("skipping corrupt message",
				zap.String("session_id", sessionID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		log.Messages = append(log.Messages, msg)
	}

	log.CreatedAt = parseTime(meta[fieldCreatedAt])
	log.UpdatedAt = parseTime(meta[fieldUpdatedAt])
	if v, ok := meta[fieldVotes]; ok {
		if err := json.Unmarshal([]byte(v), &log.Votes); err != nil {
			return nil, fmt.Errorf("decode votes: %w", err)
		}
	}
	if v, ok := meta[fieldConsensus]; ok {
		var c types.ConsensusResult
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("decode consensus: %w", err)
		}
		log.Consensus = &c
	}
	if v, ok := meta[fieldOutcome]; ok {
		var o reflection.Outcome
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		log.Outcome = &o
	}
	return log, nil
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
