package persistence

import (
	"context"

	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/types"
)

// Replay rebuilds the message history and the final votes of a session.
// Messages come back in append order.
func Replay(log *SessionLog) (history []types.Message, votes []types.AgentVote) {
	if log == nil {
		return nil, nil
	}
	history = make([]types.Message, len(log.Messages))
	for i, m := range log.Messages {
		history[i] = m.Clone()
	}
	return history, cloneVotes(log.Votes)
}

// NewRecorder adapts a SessionStore to the message bus Recorder.
// Messages without a session id are filed under sessionID.
func NewRecorder(store SessionStore, sessionID string) collaboration.Recorder {
	return collaboration.RecorderFunc(func(ctx context.Context, msg types.Message) error {
		id := msg.SessionID
		if id == "" {
			id = sessionID
		}
		return store.AppendMessage(ctx, id, msg)
	})
}
