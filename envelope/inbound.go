// This package defines the wire frames exchanged over a realtime session. Inbound
// frames form a tagged union over a "type" discriminator; each variant carries its
// own typed payload. Ciphertext and crypto metadata pass through untouched.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mercuryim/mercury/relay"
)

type Kind string

const (
	KindMessage              Kind = "message"
	KindGroupMessage         Kind = "group_message"
	KindDeliveryConfirmation Kind = "delivery_confirmation"
	KindReadConfirmation     Kind = "read_confirmation"
	KindTyping               Kind = "typing"
	KindContactAdded         Kind = "contact_added"
)

var ErrUnknownType = errors.New("envelope: unknown type")

// Inbound is implemented by every frame a client may send.
type Inbound interface {
	Kind() Kind
}

// Message is a one-to-one encrypted message. MessageID is optional and
// client-supplied; the server allocates one when absent.
type Message struct {
	MessageID           string            `json:"message_id,omitempty"`
	RecipientID         string            `json:"recipient_id"`
	EncryptedContent    string            `json:"encrypted_content"`
	EncryptedSessionKey string            `json:"encrypted_session_key"`
	CryptoVersion       string            `json:"crypto_version,omitempty"`
	EncryptionAlgorithm string            `json:"encryption_algorithm,omitempty"`
	KDFAlgorithm        string            `json:"kdf_algorithm,omitempty"`
	Signatures          []json.RawMessage `json:"signatures,omitempty"`
	HasMedia            bool              `json:"has_media,omitempty"`
	MediaRefs           []relay.MediaRef  `json:"media_refs,omitempty"`
}

func (*Message) Kind() Kind { return KindMessage }

// GroupMessage carries one ciphertext plus a per-recipient session key map.
type GroupMessage struct {
	GroupID              string            `json:"group_id"`
	EncryptedContent     string            `json:"encrypted_content"`
	EncryptedSessionKeys map[string]string `json:"encrypted_session_keys"`
}

func (*GroupMessage) Kind() Kind { return KindGroupMessage }

// DeliveryConfirmation acknowledges receipt of a message. Under the
// ack-and-delete contract this deletes any relay copy.
type DeliveryConfirmation struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

func (*DeliveryConfirmation) Kind() Kind { return KindDeliveryConfirmation }

// ReadConfirmation tells the original sender their message was read.
type ReadConfirmation struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

func (*ReadConfirmation) Kind() Kind { return KindReadConfirmation }

type Typing struct {
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

func (*Typing) Kind() Kind { return KindTyping }

// ContactAdded notifies a user that someone added them as a contact.
type ContactAdded struct {
	InviterID   string `json:"inviter_id"`
	ContactID   string `json:"contact_id"`
	DisplayName string `json:"display_name,omitempty"`
}

func (*ContactAdded) Kind() Kind { return KindContactAdded }

// Decode parses a raw frame into its typed variant. An unrecognized type yields
// ErrUnknownType; the caller logs and drops the frame, keeping the session open.
func Decode(data []byte) (Inbound, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("envelope: malformed frame: %w", err)
	}

	var in Inbound
	switch probe.Type {
	case KindMessage:
		in = &Message{}
	case KindGroupMessage:
		in = &GroupMessage{}
	case KindDeliveryConfirmation:
		in = &DeliveryConfirmation{}
	case KindReadConfirmation:
		in = &ReadConfirmation{}
	case KindTyping:
		in = &Typing{}
	case KindContactAdded:
		in = &ContactAdded{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("envelope: malformed %s payload: %w", probe.Type, err)
	}
	return in, nil
}
