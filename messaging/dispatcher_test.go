package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mercuryim/mercury/clock"
	"github.com/mercuryim/mercury/config"
	"github.com/mercuryim/mercury/directory"
	"github.com/mercuryim/mercury/envelope"
	"github.com/mercuryim/mercury/history"
	"github.com/mercuryim/mercury/presence"
	"github.com/mercuryim/mercury/relay"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []any
	failing bool
}

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("transport failure")
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) events() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func eventsOf[T any](conn *fakeConn) []T {
	var out []T
	for _, v := range conn.events() {
		if ev, ok := v.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []*history.Entry
}

func (r *recordingHistory) Write(_ context.Context, e *history.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	relay      *relay.Store
	presence   *presence.Manager
	clock      *clock.TestClock
	history    *recordingHistory
}

func newFixture(t *testing.T, dir directory.Directory) *fixture {
	t.Helper()
	c := config.NewConfig(config.WithRootDir(t.TempDir()))
	tc := clock.NewTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rs := relay.NewStore(c, tc)
	pm := presence.NewManager(c)
	hw := &recordingHistory{}
	return &fixture{
		dispatcher: NewDispatcher(c, tc, rs, pm, dir, hw, nil),
		relay:      rs,
		presence:   pm,
		clock:      tc,
		history:    hw,
	}
}

func TestInstantDeliveryBypassesRelay(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	alice, bob := &fakeConn{}, &fakeConn{}
	fx.dispatcher.Connect("alice", alice)
	fx.dispatcher.Connect("bob", bob)

	fx.dispatcher.HandleFrame(context.Background(), "alice", &envelope.Message{
		RecipientID:         "bob",
		EncryptedContent:    "ciphertext",
		EncryptedSessionKey: "wrapped-key",
	})

	delivered := eventsOf[*envelope.NewMessage](bob)
	require.Len(delivered, 1)
	require.Equal("alice", delivered[0].SenderID)
	require.Equal("ciphertext", delivered[0].EncryptedContent)

	echoes := eventsOf[*envelope.MessageSent](alice)
	require.Len(echoes, 1)
	require.Equal("sent", echoes[0].Status)

	require.Equal(0, fx.relay.Stats().TotalMessages, "instant deliveries are never written to the relay")
	require.Len(fx.history.entries, 1)
}

func TestOfflineQueueThenDrainOnConnect(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	alice := &fakeConn{}
	fx.dispatcher.Connect("alice", alice)

	fx.dispatcher.HandleFrame(context.Background(), "alice", &envelope.Message{
		RecipientID:      "bob",
		EncryptedContent: "ciphertext",
	})

	echoes := eventsOf[*envelope.MessageSent](alice)
	require.Len(echoes, 1)
	require.Equal("queued", echoes[0].Status)
	require.Equal(1, fx.relay.Stats().TotalMessages)
	require.Empty(fx.history.entries, "queued messages are not offered to history")

	// Bob's phone was already registered when the drain happens; only the new
	// device may receive the queued copy.
	bobPhone := &fakeConn{}
	fx.dispatcher.Connect("bob", bobPhone)
	drained := eventsOf[*envelope.RelayMessage](bobPhone)
	require.Len(drained, 1)

	bobLaptop := &fakeConn{}
	fx.dispatcher.Connect("bob", bobLaptop)
	require.Len(eventsOf[*envelope.RelayMessage](bobLaptop), 1, "new device drains the still-unacknowledged record")
	require.Len(eventsOf[*envelope.RelayMessage](bobPhone), 1, "drain goes to the new connection only")

	// Acknowledge deletes the record and notifies the sender.
	msgID := drained[0].Data.ID
	fx.dispatcher.HandleFrame(context.Background(), "bob", &envelope.DeliveryConfirmation{
		MessageID: msgID,
		SenderID:  "alice",
	})
	require.Equal(0, fx.relay.Stats().TotalMessages)
	require.Len(eventsOf[*envelope.MessageDelivered](alice), 1)

	bobTablet := &fakeConn{}
	fx.dispatcher.Connect("bob", bobTablet)
	require.Empty(eventsOf[*envelope.RelayMessage](bobTablet))
}

func TestQueuedEchoCorrelatesClientMessageID(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	alice := &fakeConn{}
	fx.dispatcher.Connect("alice", alice)

	fx.dispatcher.HandleFrame(context.Background(), "alice", &envelope.Message{
		MessageID:        "client-7",
		RecipientID:      "bob",
		EncryptedContent: "ciphertext",
	})

	echoes := eventsOf[*envelope.MessageSent](alice)
	require.Len(echoes, 1)
	require.Equal("queued", echoes[0].Status)
	require.NotEqual("client-7", echoes[0].MessageID, "queued records carry relay-allocated ids")
	require.Equal("client-7", echoes[0].ClientMessageID)

	// Instant delivery keeps the client id, so no correlation field is needed.
	bob := &fakeConn{}
	fx.dispatcher.Connect("bob", bob)
	fx.dispatcher.HandleFrame(context.Background(), "alice", &envelope.Message{
		MessageID:        "client-8",
		RecipientID:      "bob",
		EncryptedContent: "ciphertext",
	})
	echoes = eventsOf[*envelope.MessageSent](alice)
	require.Len(echoes, 2)
	require.Equal("client-8", echoes[1].MessageID)
	require.Empty(echoes[1].ClientMessageID)
}

func TestDeliveryConfirmationForUnknownIdIsHarmless(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	alice := &fakeConn{}
	fx.dispatcher.Connect("alice", alice)
	fx.dispatcher.HandleFrame(context.Background(), "bob", &envelope.DeliveryConfirmation{
		MessageID: "never-existed",
		SenderID:  "alice",
	})
	require.Len(eventsOf[*envelope.MessageDelivered](alice), 1)
}

func TestPresenceEventsBroadcast(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	alice := &fakeConn{}
	fx.dispatcher.Connect("alice", alice)

	bob := &fakeConn{}
	fx.dispatcher.Connect("bob", bob)
	online := eventsOf[*envelope.UserOnline](alice)
	require.Len(online, 1)
	require.Equal("bob", online[0].UserID)

	require.Len(eventsOf[*envelope.ConnectionEstablished](bob), 1)

	fx.dispatcher.Disconnect("bob", bob)
	offline := eventsOf[*envelope.UserOffline](alice)
	require.Len(offline, 1)
	require.Equal("bob", offline[0].UserID)
}

func TestTypingForwarded(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	bob := &fakeConn{}
	fx.dispatcher.Connect("bob", bob)
	fx.dispatcher.HandleFrame(context.Background(), "alice", &envelope.Typing{RecipientID: "bob", IsTyping: true})

	typing := eventsOf[*envelope.TypingEvent](bob)
	require.Len(typing, 1)
	require.Equal("alice", typing[0].UserID)
	require.True(typing[0].IsTyping)
}

func TestContactAddedForwarded(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	bob := &fakeConn{}
	fx.dispatcher.Connect("bob", bob)
	fx.dispatcher.HandleFrame(context.Background(), "alice", &envelope.ContactAdded{
		InviterID:   "alice",
		ContactID:   "bob",
		DisplayName: "Alice",
	})

	added := eventsOf[*envelope.ContactAddedEvent](bob)
	require.Len(added, 1)
	require.Equal("Alice", added[0].DisplayName)
}

func TestSendRelayQueuesAndPushes(t *testing.T) {
	require := require.New(t)
	dir := directory.NewStatic().AddUser("bob")
	fx := newFixture(t, dir)

	// Offline: queued only.
	msg, delivered, err := fx.dispatcher.SendRelay(context.Background(), "alice", relay.QueueRequest{
		RecipientID:      "bob",
		EncryptedContent: "ciphertext",
	})
	require.NoError(err)
	require.False(delivered)
	require.Equal(1, fx.relay.Stats().TotalMessages)

	// Online: queued and pushed; the record stays until the client acknowledges.
	bob := &fakeConn{}
	fx.dispatcher.Connect("bob", bob)
	require.Len(eventsOf[*envelope.RelayMessage](bob), 1, "connect drains the first message")

	msg2, delivered, err := fx.dispatcher.SendRelay(context.Background(), "alice", relay.QueueRequest{
		RecipientID:      "bob",
		EncryptedContent: "more ciphertext",
	})
	require.NoError(err)
	require.True(delivered)
	require.Equal(2, fx.relay.Stats().TotalMessages)
	require.NotEqual(msg.ID, msg2.ID)
}

func TestSendRelayUnknownRecipient(t *testing.T) {
	require := require.New(t)
	fx := newFixture(t, directory.NewStatic())

	_, _, err := fx.dispatcher.SendRelay(context.Background(), "alice", relay.QueueRequest{RecipientID: "ghost"})
	require.ErrorIs(err, ErrRecipientUnknown)
	require.Equal(0, fx.relay.Stats().TotalMessages)
}
