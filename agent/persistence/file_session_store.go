package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent/reflection"
	"github.com/BaSui01/agentcouncil/types"
)

const (
	messagesFile = "messages.jsonl"
	metaFile     = "meta.json"
)

// sessionMeta is everything except the message history.
type sessionMeta struct {
	SessionID string                 `json:"session_id"`
	Votes     []types.AgentVote      `json:"votes,omitempty"`
	Consensus *types.ConsensusResult `json:"consensus,omitempty"`
	Outcome   *reflection.Outcome    `json:"outcome,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// FileSessionStore is a file-based implementation of SessionStore.
// Each session lives in its own directory: messages are appended as JSON
// lines, metadata is rewritten atomically via a temp file and rename.
type FileSessionStore struct {
	baseDir string
	mu      sync.Mutex
	closed  bool
	logger  *zap.Logger
}

// NewFileSessionStore creates a new file-based session store
func NewFileSessionStore(config StoreConfig, logger *zap.Logger) (*FileSessionStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDir := filepath.Join(config.BaseDir, "sessions")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session store directory: %w", err)
	}
	return &FileSessionStore{
		baseDir: baseDir,
		logger:  logger.With(zap.String("component", "file_session_store")),
	}, nil
}

// Close closes the store
func (s *FileSessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the base directory is still accessible
func (s *FileSessionStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileSessionStore) dir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *FileSessionStore) readMeta(sessionID string) (*sessionMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(sessionID), metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta sessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode session meta %s: %w", sessionID, err)
	}
	return &meta, nil
}

func (s *FileSessionStore) writeMeta(meta *sessionMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir(meta.SessionID), metaFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// update loads (or creates) the session metadata, applies fn and persists it.
func (s *FileSessionStore) update(sessionID string, fn func(meta *sessionMeta) error) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	now := time.Now().UTC()
	meta, err := s.readMeta(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		if err := os.MkdirAll(s.dir(sessionID), 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
		meta = &sessionMeta{SessionID: sessionID, CreatedAt: now}
	} else if err != nil {
		return err
	}
	if err := fn(meta); err != nil {
		return err
	}
	meta.UpdatedAt = now
	return s.writeMeta(meta)
}

// AppendMessage appends one JSON line to the session history
func (s *FileSessionStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.update(sessionID, func(meta *sessionMeta) error {
		f, err := os.OpenFile(filepath.Join(s.dir(sessionID), messagesFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(append(line, '\n'))
		return err
	})
}

// SaveVotes replaces the final votes
func (s *FileSessionStore) SaveVotes(ctx context.Context, sessionID string, votes []types.AgentVote) error {
	return s.update(sessionID, func(meta *sessionMeta) error {
		meta.Votes = cloneVotes(votes)
		return nil
	})
}

// SaveConsensus stores the consensus result
func (s *FileSessionStore) SaveConsensus(ctx context.Context, sessionID string, result types.ConsensusResult) error {
	return s.update(sessionID, func(meta *sessionMeta) error {
		meta.Consensus = &result
		return nil
	})
}

// SaveOutcome stores the trade outcome
func (s *FileSessionStore) SaveOutcome(ctx context.Context, sessionID string, outcome reflection.Outcome) error {
	return s.update(sessionID, func(meta *sessionMeta) error {
		meta.Outcome = &outcome
		return nil
	})
}

// Load reads the metadata and the full message history
func (s *FileSessionStore) Load(ctx context.Context, sessionID string) (*SessionLog, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	meta, err := s.readMeta(sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.readMessages(sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionLog{
		SessionID: meta.SessionID,
		Messages:  messages,
		Votes:     meta.Votes,
		Consensus: meta.Consensus,
		Outcome:   meta.Outcome,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}

func (s *FileSessionStore) readMessages(sessionID string) ([]types.Message, error) {
	f, err := os.Open(filepath.Join(s.dir(sessionID), messagesFile))
	if errors.Is(err, os.ErrNotExist) {
		return []types.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	messages := []types.Message{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			// 崩溃时可能留下半行，跳过并记录
			s.logger.Warn("skipping corrupt message line",
				zap.String("session_id", sessionID),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}
