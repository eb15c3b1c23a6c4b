package message

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// GreetingID is the fixed id of the synthesized assistant greeting shown
// when a user has no session yet. A history consisting of only this
// message is never persisted.
const GreetingID = "1"

// Message is one entry in a session's append-mostly log. Identity is by
// ID only; Content may be rewritten in place for assistant messages
// (incremental production, marker state flips), ID/Role/position never.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"isError,omitempty"`
}

func New(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewWithID builds a message with a caller-chosen id. Used for
// synthesized messages whose identity must be stable across devices.
func NewWithID(id string, role Role, content string) Message {
	m := New(role, content)
	m.ID = id
	return m
}

func Greeting(content string) Message {
	return NewWithID(GreetingID, RoleAssistant, content)
}

// Dedupe keeps the first occurrence of each id, preserving order.
// Applied whenever sequences from different origins (local optimistic
// state, remote snapshot) are merged.
func Dedupe(msgs []Message) []Message {
	if len(msgs) == 0 {
		return msgs
	}
	seen := make(map[string]struct{}, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Tail returns the most recent n messages (the whole slice if shorter,
// nothing for n <= 0).
func Tail(msgs []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// Clone copies the slice so callers can mutate independently.
func Clone(msgs []Message) []Message {
	return append([]Message(nil), msgs...)
}

// LastID returns the id of the final message, or "" for an empty log.
func LastID(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}
