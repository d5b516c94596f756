// This package decides, per outbound message, between instant delivery and relay
// queueing, drains queued messages when a recipient connects, and fans group
// messages out to their resolved member sets.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mercuryim/mercury/clock"
	"github.com/mercuryim/mercury/config"
	"github.com/mercuryim/mercury/directory"
	"github.com/mercuryim/mercury/envelope"
	"github.com/mercuryim/mercury/history"
	"github.com/mercuryim/mercury/presence"
	"github.com/mercuryim/mercury/pubsub"
	"github.com/mercuryim/mercury/relay"
	"go.uber.org/zap"
)

var ErrRecipientUnknown = errors.New("messaging: recipient unknown")

const publishTimeout = 5 * time.Second

type Dispatcher struct {
	log       *zap.SugaredLogger
	clock     clock.Clock
	relay     *relay.Store
	presence  *presence.Manager
	directory directory.Directory
	history   history.Writer
	publisher *pubsub.Publisher
	fanout    *GroupFanout
}

func NewDispatcher(
	c *config.Config,
	cl clock.Clock,
	rs *relay.Store,
	pm *presence.Manager,
	dir directory.Directory,
	hw history.Writer,
	pub *pubsub.Publisher,
) *Dispatcher {
	if hw == nil {
		hw = history.Nop{}
	}
	d := &Dispatcher{
		log:       c.Logger("messaging/dispatcher"),
		clock:     cl,
		relay:     rs,
		presence:  pm,
		directory: dir,
		history:   hw,
		publisher: pub,
	}
	d.fanout = NewGroupFanout(c, cl, rs, pm, dir)
	pm.SetNotifier(d.presenceChanged)
	return d
}

// Connect registers a new connection, then unconditionally drains any relay
// messages waiting for the user to that connection only. Draining on every
// connect is what turns the queue/connect race into a latency-only effect.
func (d *Dispatcher) Connect(userID string, conn presence.Conn) {
	d.presence.Register(userID, conn)
	if err := conn.Send(envelope.NewConnectionEstablished(userID, d.clock.Now())); err != nil {
		d.log.Warnf("greeting %s failed: %v", userID, err)
	}
	d.drain(userID, conn)
}

func (d *Dispatcher) Disconnect(userID string, conn presence.Conn) {
	d.presence.Unregister(userID, conn)
}

func (d *Dispatcher) drain(userID string, conn presence.Conn) {
	pending := d.relay.Pending(userID)
	if len(pending) == 0 {
		return
	}
	for _, msg := range pending {
		if err := conn.Send(envelope.NewRelayMessage(msg)); err != nil {
			// The record stays queued; the next connect retries.
			d.log.Warnf("drain to %s aborted: %v", userID, err)
			return
		}
	}
	d.log.Infof("drained %d pending messages to %s", len(pending), userID)
}

// HandleFrame processes one inbound frame from an authenticated session.
// Failures are contained: they are logged and never close the session.
func (d *Dispatcher) HandleFrame(ctx context.Context, senderID string, in envelope.Inbound) {
	switch f := in.(type) {
	case *envelope.Message:
		d.handleDirect(ctx, senderID, f)
	case *envelope.GroupMessage:
		d.handleGroup(ctx, senderID, f)
	case *envelope.DeliveryConfirmation:
		d.handleDelivered(f)
	case *envelope.ReadConfirmation:
		d.handleRead(f)
	case *envelope.Typing:
		d.presence.SendPersonal(f.RecipientID, envelope.NewTypingEvent(senderID, f.IsTyping))
	case *envelope.ContactAdded:
		d.presence.SendPersonal(f.ContactID, envelope.NewContactAddedEvent(f, d.clock.Now()))
	default:
		d.log.Warnf("unhandled frame kind %q from %s", in.Kind(), senderID)
	}
}

// handleDirect delivers a one-to-one message. Instant delivery and queueing are
// mutually exclusive: a message that reached a live connection is never written
// to the relay, so the resident set stays proportional to undelivered volume.
func (d *Dispatcher) handleDirect(ctx context.Context, senderID string, f *envelope.Message) {
	now := d.clock.Now()
	id := f.MessageID
	if id == "" {
		id = uuid.NewString()
	}

	delivered := d.presence.SendPersonal(f.RecipientID, envelope.NewNewMessage(id, senderID, f, now))
	status := "sent"
	if delivered {
		if err := d.history.Write(ctx, &history.Entry{
			MessageID:           id,
			SenderID:            senderID,
			RecipientID:         f.RecipientID,
			EncryptedContent:    f.EncryptedContent,
			EncryptedSessionKey: f.EncryptedSessionKey,
			DeliveredAt:         now,
		}); err != nil {
			d.log.Warnf("history write for %s failed: %v", id, err)
		}
	} else {
		status = "queued"
		msg := d.relay.Queue(relay.QueueRequest{
			SenderID:            senderID,
			RecipientID:         f.RecipientID,
			EncryptedContent:    f.EncryptedContent,
			EncryptedSessionKey: f.EncryptedSessionKey,
			CryptoVersion:       f.CryptoVersion,
			EncryptionAlgorithm: f.EncryptionAlgorithm,
			KDFAlgorithm:        f.KDFAlgorithm,
			Signatures:          f.Signatures,
			HasMedia:            f.HasMedia,
			MediaRefs:           f.MediaRefs,
		})
		id = msg.ID
	}
	d.presence.SendPersonal(senderID, envelope.NewMessageSent(id, f.MessageID, status, f.HasMedia, now))
}

func (d *Dispatcher) handleGroup(ctx context.Context, senderID string, f *envelope.GroupMessage) {
	res, err := d.fanout.Send(ctx, senderID, f)
	if err != nil {
		d.log.Warnf("group send from %s to %s dropped: %v", senderID, f.GroupID, err)
		return
	}
	d.presence.SendPersonal(senderID,
		envelope.NewGroupMessageSent(res.MessageID, f.GroupID, res.Online, res.Offline, d.clock.Now()))
}

// handleDelivered applies the ack-and-delete contract, then tells the original
// sender. A missing relay record is expected (instant deliveries were never
// queued, late acks are harmless) and stays quiet.
func (d *Dispatcher) handleDelivered(f *envelope.DeliveryConfirmation) {
	if d.relay.Acknowledge(f.MessageID) {
		d.log.Debugf("relay record %s deleted on delivery confirmation", f.MessageID)
	}
	d.presence.SendPersonal(f.SenderID, envelope.NewMessageDelivered(f.MessageID, d.clock.Now()))
}

func (d *Dispatcher) handleRead(f *envelope.ReadConfirmation) {
	d.presence.SendPersonal(f.SenderID, envelope.NewMessageRead(f.MessageID, d.clock.Now()))
}

// SendRelay serves the REST send path: verify the recipient, queue with TTL,
// then attempt an instant push of the queued record. The record stays queued
// until the client acknowledges it, so a crash between queue and push loses
// nothing.
func (d *Dispatcher) SendRelay(ctx context.Context, senderID string, req relay.QueueRequest) (*relay.Message, bool, error) {
	req.SenderID = senderID
	ok, err := d.directory.UserExists(ctx, req.RecipientID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrRecipientUnknown
	}

	msg := d.relay.Queue(req)
	delivered := d.presence.SendPersonal(req.RecipientID, envelope.NewRelayMessage(msg))
	if delivered {
		d.log.Debugf("instant push of %s to %s", msg.ID, req.RecipientID)
	}
	return msg, delivered, nil
}

// Acknowledge deletes a relay record on behalf of a REST caller.
func (d *Dispatcher) Acknowledge(messageID string) bool {
	return d.relay.Acknowledge(messageID)
}

func (d *Dispatcher) presenceChanged(userID string, online bool) {
	now := d.clock.Now()
	var ev any
	if online {
		ev = envelope.NewUserOnline(userID, now)
	} else {
		ev = envelope.NewUserOffline(userID, now)
	}
	d.presence.Broadcast(ev, userID)

	if d.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		d.publisher.PublishPresence(ctx, userID, online)
	}
}
