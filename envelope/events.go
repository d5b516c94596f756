package envelope

import (
	"encoding/json"
	"time"

	"github.com/mercuryim/mercury/relay"
)

// Outbound events pushed to clients. Every event carries its own "type" tag so
// clients can dispatch without knowing the Go types.

type ConnectionEstablished struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewConnectionEstablished(userID string, now time.Time) *ConnectionEstablished {
	return &ConnectionEstablished{Type: "connection_established", UserID: userID, Timestamp: now}
}

type UserOnline struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUserOnline(userID string, now time.Time) *UserOnline {
	return &UserOnline{Type: "user_online", UserID: userID, Timestamp: now}
}

type UserOffline struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUserOffline(userID string, now time.Time) *UserOffline {
	return &UserOffline{Type: "user_offline", UserID: userID, Timestamp: now}
}

type NewMessage struct {
	Type                string            `json:"type"`
	MessageID           string            `json:"message_id"`
	SenderID            string            `json:"sender_id"`
	EncryptedContent    string            `json:"encrypted_content"`
	EncryptedSessionKey string            `json:"encrypted_session_key"`
	CryptoVersion       string            `json:"crypto_version,omitempty"`
	EncryptionAlgorithm string            `json:"encryption_algorithm,omitempty"`
	KDFAlgorithm        string            `json:"kdf_algorithm,omitempty"`
	Signatures          []json.RawMessage `json:"signatures,omitempty"`
	HasMedia            bool              `json:"has_media"`
	MediaRefs           []relay.MediaRef  `json:"media_refs,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
}

func NewNewMessage(id, senderID string, m *Message, now time.Time) *NewMessage {
	return &NewMessage{
		Type:                "new_message",
		MessageID:           id,
		SenderID:            senderID,
		EncryptedContent:    m.EncryptedContent,
		EncryptedSessionKey: m.EncryptedSessionKey,
		CryptoVersion:       m.CryptoVersion,
		EncryptionAlgorithm: m.EncryptionAlgorithm,
		KDFAlgorithm:        m.KDFAlgorithm,
		Signatures:          m.Signatures,
		HasMedia:            m.HasMedia,
		MediaRefs:           m.MediaRefs,
		Timestamp:           now,
	}
}

// MessageSent is the synchronous echo to the sender. Status is "sent" when the
// message reached at least one recipient device, "queued" when it went to the
// relay. A queued message gets a relay-allocated id; when the client supplied
// its own id, it comes back as client_message_id so the sender can correlate.
type MessageSent struct {
	Type            string    `json:"type"`
	MessageID       string    `json:"message_id"`
	ClientMessageID string    `json:"client_message_id,omitempty"`
	Status          string    `json:"status"`
	HasMedia        bool      `json:"has_media"`
	Timestamp       time.Time `json:"timestamp"`
}

func NewMessageSent(id, clientID, status string, hasMedia bool, now time.Time) *MessageSent {
	ev := &MessageSent{Type: "message_sent", MessageID: id, Status: status, HasMedia: hasMedia, Timestamp: now}
	if clientID != "" && clientID != id {
		ev.ClientMessageID = clientID
	}
	return ev
}

type NewGroupMessage struct {
	Type                 string            `json:"type"`
	MessageID            string            `json:"message_id"`
	GroupID              string            `json:"group_id"`
	SenderID             string            `json:"sender_id"`
	EncryptedContent     string            `json:"encrypted_content"`
	EncryptedSessionKeys map[string]string `json:"encrypted_session_keys"`
	Timestamp            time.Time         `json:"timestamp"`
}

func NewNewGroupMessage(id, senderID string, gm *GroupMessage, now time.Time) *NewGroupMessage {
	return &NewGroupMessage{
		Type:                 "new_group_message",
		MessageID:            id,
		GroupID:              gm.GroupID,
		SenderID:             senderID,
		EncryptedContent:     gm.EncryptedContent,
		EncryptedSessionKeys: gm.EncryptedSessionKeys,
		Timestamp:            now,
	}
}

type GroupMessageSent struct {
	Type              string    `json:"type"`
	MessageID         string    `json:"message_id"`
	GroupID           string    `json:"group_id"`
	OnlineRecipients  int       `json:"online_recipients"`
	OfflineRecipients int       `json:"offline_recipients"`
	Timestamp         time.Time `json:"timestamp"`
}

func NewGroupMessageSent(id, groupID string, online, offline int, now time.Time) *GroupMessageSent {
	return &GroupMessageSent{
		Type:              "group_message_sent",
		MessageID:         id,
		GroupID:           groupID,
		OnlineRecipients:  online,
		OfflineRecipients: offline,
		Timestamp:         now,
	}
}

type MessageDelivered struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessageDelivered(id string, now time.Time) *MessageDelivered {
	return &MessageDelivered{Type: "message_delivered", MessageID: id, Timestamp: now}
}

type MessageRead struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessageRead(id string, now time.Time) *MessageRead {
	return &MessageRead{Type: "message_read", MessageID: id, Timestamp: now}
}

type TypingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

func NewTypingEvent(userID string, isTyping bool) *TypingEvent {
	return &TypingEvent{Type: "typing", UserID: userID, IsTyping: isTyping}
}

// RelayMessage wraps a queued relay record for push or drain delivery. The
// client acknowledges data.id to delete the server-side copy.
type RelayMessage struct {
	Type string         `json:"type"`
	Data *relay.Message `json:"data"`
}

func NewRelayMessage(msg *relay.Message) *RelayMessage {
	return &RelayMessage{Type: "relay_message", Data: msg}
}

type ContactAddedEvent struct {
	Type        string    `json:"type"`
	InviterID   string    `json:"inviter_id"`
	ContactID   string    `json:"contact_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewContactAddedEvent(c *ContactAdded, now time.Time) *ContactAddedEvent {
	return &ContactAddedEvent{
		Type:        "contact_added",
		InviterID:   c.InviterID,
		ContactID:   c.ContactID,
		DisplayName: c.DisplayName,
		Timestamp:   now,
	}
}
