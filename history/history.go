// This package is the served collaborator boundary for durable message history.
// The relay may offer a copy of an instantly delivered message to a Writer; the
// decision to persist belongs to the external store, never to the relay, and the
// relay never reads anything back.
package history

import (
	"context"
	"time"
)

// Entry is one delivered-message copy offered for long-term storage. Content is
// ciphertext; the history store is as blind as the relay.
type Entry struct {
	MessageID           string
	SenderID            string
	RecipientID         string
	GroupID             string
	EncryptedContent    string
	EncryptedSessionKey string
	DeliveredAt         time.Time
}

type Writer interface {
	Write(ctx context.Context, e *Entry) error
}

// Nop discards every entry. Used when no history store is configured.
type Nop struct{}

func (Nop) Write(context.Context, *Entry) error { return nil }
