// Package persistence provides durable storage for council session logs.
//
// Supported backends:
// - Memory: For development and testing (default)
// - File: For single-node deployments
// - Redis: For distributed deployments
package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentcouncil/agent/reflection"
	"github.com/BaSui01/agentcouncil/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound is returned by Load for unknown session ids.
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// StoreConfig selects and configures the session store backend
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/sessions",
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// SessionLog is the replayable record of one roundtable session.
type SessionLog struct {
	SessionID string                 `json:"session_id"`
	Messages  []types.Message        `json:"messages"`
	Votes     []types.AgentVote      `json:"votes,omitempty"`
	Consensus *types.ConsensusResult `json:"consensus,omitempty"`
	Outcome   *reflection.Outcome    `json:"outcome,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// SessionStore persists session logs. Messages are kept in append order.
type SessionStore interface {
	Store

	// AppendMessage appends one message to the session history,
	// creating the session on first write.
	AppendMessage(ctx context.Context, sessionID string, msg types.Message) error

	// SaveVotes replaces the final votes of the session.
	SaveVotes(ctx context.Context, sessionID string, votes []types.AgentVote) error

	// SaveConsensus stores the aggregated consensus result.
	SaveConsensus(ctx context.Context, sessionID string, result types.ConsensusResult) error

	// SaveOutcome stores the post-trade outcome used for reflection.
	SaveOutcome(ctx context.Context, sessionID string, outcome reflection.Outcome) error

	// Load returns the full session log or ErrSessionNotFound.
	Load(ctx context.Context, sessionID string) (*SessionLog, error)
}

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidInput)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: session id %q", ErrInvalidInput, id)
	}
	return nil
}

func cloneLog(l *SessionLog) *SessionLog {
	out := *l
	out.Messages = make([]types.Message, len(l.Messages))
	for i, m := range l.Messages {
		out.Messages[i] = m.Clone()
	}
	out.Votes = cloneVotes(l.Votes)
	if l.Consensus != nil {
		c := *l.Consensus
		out.Consensus = &c
	}
	if l.Outcome != nil {
		o := *l.Outcome
		out.Outcome = &o
	}
	return &out
}

func cloneVotes(votes []types.AgentVote) []types.AgentVote {
	if votes == nil {
		return nil
	}
	out := make([]types.AgentVote, len(votes))
	for i, v := range votes {
		v.KeyFactors = append([]string(nil), v.KeyFactors...)
		out[i] = v
	}
	return out
}
