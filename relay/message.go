// This package implements the ephemeral relay store. Messages are held in memory only,
// expire after a TTL and are deleted permanently on acknowledgment. The relay is
// infrastructure, not an authority: payloads are opaque ciphertext and are never
// inspected or transformed.
package relay

import (
	"encoding/json"
	"time"
)

const (
	DefaultCryptoVersion       = "v1"
	DefaultEncryptionAlgorithm = "ECDH-AES256-GCM"
	DefaultKDFAlgorithm        = "HKDF-SHA256"
)

// MediaRef is a content-addressed pointer to an externally stored attachment.
type MediaRef struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Message is one ephemeral record awaiting delivery. It is owned by the Store
// for its whole lifetime; values handed to callers are copies.
type Message struct {
	ID                  string            `json:"id"`
	SenderID            string            `json:"sender_id"`
	RecipientID         string            `json:"recipient_id"`
	EncryptedContent    string            `json:"encrypted_content"`
	EncryptedSessionKey string            `json:"encrypted_session_key"`
	CryptoVersion       string            `json:"crypto_version"`
	EncryptionAlgorithm string            `json:"encryption_algorithm"`
	KDFAlgorithm        string            `json:"kdf_algorithm"`
	Signatures          []json.RawMessage `json:"signatures,omitempty"`
	HasMedia            bool              `json:"has_media"`
	MediaRefs           []MediaRef        `json:"media_refs,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	ExpiresAt           time.Time         `json:"expires_at"`
	DeliveryAttempts    int               `json:"delivery_attempts"`
	LastAttemptAt       *time.Time        `json:"last_attempt_at,omitempty"`
	Acknowledged        bool              `json:"-"`
}

// Expired reports whether the TTL horizon has been reached. A message expires
// at exactly created_at+TTL, not one instant later.
func (m *Message) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Deliverable reports whether the message may still be handed to its recipient.
func (m *Message) Deliverable(now time.Time) bool {
	return !m.Acknowledged && !m.Expired(now)
}

func (m *Message) clone() *Message {
	c := *m
	if m.Signatures != nil {
		c.Signatures = make([]json.RawMessage, len(m.Signatures))
		copy(c.Signatures, m.Signatures)
	}
	if m.MediaRefs != nil {
		c.MediaRefs = make([]MediaRef, len(m.MediaRefs))
		copy(c.MediaRefs, m.MediaRefs)
	}
	if m.LastAttemptAt != nil {
		t := *m.LastAttemptAt
		c.LastAttemptAt = &t
	}
	return &c
}
