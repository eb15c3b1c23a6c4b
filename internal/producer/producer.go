package producer

import (
	"context"

	"github.com/solace-app/coachsync/internal/message"
)

// Producer is the coaching backend: an opaque source of assistant
// content. The sync engine persists whatever it returns byte-for-byte,
// inline markers included.
type Producer interface {
	Reply(ctx context.Context, history []message.Message) (string, error)
}

// StreamProducer is optional. Backends may deliver content incrementally.
type StreamProducer interface {
	StreamReply(ctx context.Context, history []message.Message) (<-chan string, <-chan error)
}
