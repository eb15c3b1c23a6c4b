package session

import (
	"encoding/json"
	"time"

	"github.com/solace-app/coachsync/internal/message"
)

type Kind string

const (
	KindDefault  Kind = "default"
	KindBreakout Kind = "breakout"
)

// Document is the single authoritative record for a conversation. One
// document per (user, kind=default); breakout documents are keyed by
// their own DocID and point back at the session they were spawned from.
type Document struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	DocID       string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"doc_id"`
	UserID      uint64    `gorm:"not null;index:idx_session_doc_user_kind,priority:1" json:"-"`
	Kind        Kind      `gorm:"type:varchar(16);not null;index:idx_session_doc_user_kind,priority:2" json:"kind"`
	ParentDocID *string   `gorm:"type:varchar(26);index" json:"parent_doc_id,omitempty"`
	Messages    string    `gorm:"type:text;not null" json:"-"` // JSON-encoded []message.Message
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Document) TableName() string { return "session_documents" }

func (d *Document) DecodeMessages() ([]message.Message, error) {
	if d.Messages == "" {
		return nil, nil
	}
	var msgs []message.Message
	if err := json.Unmarshal([]byte(d.Messages), &msgs); err != nil {
		return nil, err
	}
	// entries with an unrecognized role are dropped rather than failing
	// the whole document
	out := msgs[:0]
	for _, m := range msgs {
		if m.Role.Valid() {
			out = append(out, m)
		}
	}
	return out, nil
}

func encodeMessages(msgs []message.Message) (string, error) {
	if msgs == nil {
		msgs = []message.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
