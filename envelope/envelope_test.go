package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mercuryim/mercury/relay"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	require := require.New(t)

	in, err := Decode([]byte(`{
		"type": "message",
		"recipient_id": "bob",
		"encrypted_content": "ciphertext",
		"encrypted_session_key": "wrapped",
		"crypto_version": "v2",
		"has_media": true,
		"media_refs": [{"hash": "sha256-abc", "size": 1234}]
	}`))
	require.NoError(err)

	msg, ok := in.(*Message)
	require.True(ok)
	require.Equal(KindMessage, in.Kind())
	require.Equal("bob", msg.RecipientID)
	require.Equal("ciphertext", msg.EncryptedContent)
	require.Equal("v2", msg.CryptoVersion)
	require.True(msg.HasMedia)
	require.Equal([]relay.MediaRef{{Hash: "sha256-abc", Size: 1234}}, msg.MediaRefs)
}

func TestDecodeGroupMessage(t *testing.T) {
	require := require.New(t)

	in, err := Decode([]byte(`{
		"type": "group_message",
		"group_id": "engineering",
		"encrypted_content": "ciphertext",
		"encrypted_session_keys": {"alice": "ka", "bob": "kb"}
	}`))
	require.NoError(err)

	gm, ok := in.(*GroupMessage)
	require.True(ok)
	require.Equal("engineering", gm.GroupID)
	require.Equal(map[string]string{"alice": "ka", "bob": "kb"}, gm.EncryptedSessionKeys)
}

func TestDecodeConfirmationsAndTyping(t *testing.T) {
	require := require.New(t)

	in, err := Decode([]byte(`{"type": "delivery_confirmation", "message_id": "m1", "sender_id": "alice"}`))
	require.NoError(err)
	dc, ok := in.(*DeliveryConfirmation)
	require.True(ok)
	require.Equal("m1", dc.MessageID)
	require.Equal("alice", dc.SenderID)

	in, err = Decode([]byte(`{"type": "read_confirmation", "message_id": "m2", "sender_id": "alice"}`))
	require.NoError(err)
	require.IsType(&ReadConfirmation{}, in)

	in, err = Decode([]byte(`{"type": "typing", "recipient_id": "bob", "is_typing": true}`))
	require.NoError(err)
	ty, ok := in.(*Typing)
	require.True(ok)
	require.True(ty.IsTyping)
}

func TestDecodeUnknownType(t *testing.T) {
	require := require.New(t)

	_, err := Decode([]byte(`{"type": "selfdestruct"}`))
	require.ErrorIs(err, ErrUnknownType)

	_, err = Decode([]byte(`{not json`))
	require.Error(err)
	require.NotErrorIs(err, ErrUnknownType)
}

func TestOutboundEventTags(t *testing.T) {
	require := require.New(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		event any
		tag   string
	}{
		{NewConnectionEstablished("bob", now), "connection_established"},
		{NewUserOnline("bob", now), "user_online"},
		{NewUserOffline("bob", now), "user_offline"},
		{NewMessageSent("m1", "", "sent", false, now), "message_sent"},
		{NewMessageDelivered("m1", now), "message_delivered"},
		{NewMessageRead("m1", now), "message_read"},
		{NewTypingEvent("bob", true), "typing"},
		{NewRelayMessage(&relay.Message{ID: "m1"}), "relay_message"},
	} {
		data, err := json.Marshal(tc.event)
		require.NoError(err)
		var decoded struct {
			Type string `json:"type"`
		}
		require.NoError(json.Unmarshal(data, &decoded))
		require.Equal(tc.tag, decoded.Type)
	}
}

func TestNewMessageCarriesCryptoMetadataUntouched(t *testing.T) {
	require := require.New(t)
	now := time.Now()

	sig := json.RawMessage(`{"alg":"Ed25519","sig":"base64"}`)
	ev := NewNewMessage("m1", "alice", &Message{
		RecipientID:         "bob",
		EncryptedContent:    "ciphertext",
		EncryptedSessionKey: "wrapped",
		CryptoVersion:       "v2",
		EncryptionAlgorithm: "ML-KEM-768-AES256-GCM",
		KDFAlgorithm:        "HKDF-SHA512",
		Signatures:          []json.RawMessage{sig},
	}, now)

	require.Equal("m1", ev.MessageID)
	require.Equal("alice", ev.SenderID)
	require.Equal("v2", ev.CryptoVersion)
	require.Equal("ML-KEM-768-AES256-GCM", ev.EncryptionAlgorithm)
	require.Equal([]json.RawMessage{sig}, ev.Signatures)
}
