// Package types provides core types used across the agentcouncil module.
// This package has ZERO dependencies on other agentcouncil packages to avoid circular imports.
package types

import (
	"time"

	"github.com/google/uuid"
)

// RecipientAll addresses a message to every registered agent except the sender.
const RecipientAll = "ALL"

// MessageType classifies a session message.
type MessageType string

const (
	MessageBroadcast    MessageType = "broadcast"
	MessageDirect       MessageType = "direct"
	MessagePrivate      MessageType = "private"
	MessageQuestion     MessageType = "question"
	MessageResponse     MessageType = "response"
	MessageAgreement    MessageType = "agreement"
	MessageDisagreement MessageType = "disagreement"
	MessageThinking     MessageType = "thinking"
	MessageToolResult   MessageType = "tool_result"
)

// Valid reports whether t belongs to the closed message type set.
func (t MessageType) Valid() bool {
	switch t {
	case MessageBroadcast, MessageDirect, MessagePrivate, MessageQuestion, MessageResponse,
		MessageAgreement, MessageDisagreement, MessageThinking, MessageToolResult:
		return true
	}
	return false
}

// Message is a single entry of a collaborative session.
// Values are treated as immutable once created: components pass them by value
// and never edit a message that has been sent.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id,omitempty"`
	Sender    string            `json:"sender"`
	Recipient string            `json:"recipient"`
	Type      MessageType       `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(sender, recipient string, msgType MessageType, content string) Message {
	if recipient == "" {
		recipient = RecipientAll
	}
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewBroadcast creates a message addressed to all agents.
func NewBroadcast(sender string, msgType MessageType, content string) Message {
	return NewMessage(sender, RecipientAll, msgType, content)
}

// IsBroadcast returns true if the message is addressed to all agents.
func (m Message) IsBroadcast() bool {
	return m.Recipient == RecipientAll || m.Recipient == ""
}

// WithSession returns a copy bound to the given session.
func (m Message) WithSession(sessionID string) Message {
	m.SessionID = sessionID
	return m
}

// WithMetadata returns a copy carrying a cloned metadata map plus the given pair.
func (m Message) WithMetadata(key, value string) Message {
	md := make(map[string]string, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		md[k] = v
	}
	md[key] = value
	m.Metadata = md
	return m
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Metadata != nil {
		md := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		m.Metadata = md
	}
	return m
}
