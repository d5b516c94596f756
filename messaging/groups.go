package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mercuryim/mercury/clock"
	"github.com/mercuryim/mercury/config"
	"github.com/mercuryim/mercury/directory"
	"github.com/mercuryim/mercury/envelope"
	"github.com/mercuryim/mercury/presence"
	"github.com/mercuryim/mercury/relay"
	"go.uber.org/zap"
)

var ErrNotParticipant = errors.New("messaging: sender is not a group participant")

// FanoutResult reports how a group message landed, for observability and the
// sender's group_message_sent echo.
type FanoutResult struct {
	MessageID string
	Online    int
	Offline   int
}

// GroupFanout resolves a group to its recipient set and delivers to each
// recipient the same way a one-to-one message would be delivered: instantly
// when online, queued through the relay when not.
type GroupFanout struct {
	log       *zap.SugaredLogger
	clock     clock.Clock
	relay     *relay.Store
	presence  *presence.Manager
	directory directory.Directory
}

func NewGroupFanout(c *config.Config, cl clock.Clock, rs *relay.Store, pm *presence.Manager, dir directory.Directory) *GroupFanout {
	return &GroupFanout{
		log:       c.Logger("messaging/groups"),
		clock:     cl,
		relay:     rs,
		presence:  pm,
		directory: dir,
	}
}

// Send fans gm out to the group's members plus its owner, minus the sender.
// A recipient that cannot be reached never aborts delivery to the rest.
func (g *GroupFanout) Send(ctx context.Context, senderID string, gm *envelope.GroupMessage) (*FanoutResult, error) {
	grp, err := g.directory.Group(ctx, gm.GroupID)
	if err != nil {
		return nil, fmt.Errorf("resolving group %s: %w", gm.GroupID, err)
	}
	if !grp.Participant(senderID) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotParticipant, senderID, gm.GroupID)
	}

	res := &FanoutResult{MessageID: uuid.NewString()}
	now := g.clock.Now()
	ev := envelope.NewNewGroupMessage(res.MessageID, senderID, gm, now)

	for _, recipient := range grp.Recipients(senderID) {
		if g.presence.SendPersonal(recipient, ev) {
			res.Online++
			continue
		}
		res.Offline++
		key, ok := gm.EncryptedSessionKeys[recipient]
		if !ok {
			// Without a session key for this member the queued copy would be
			// undecryptable, so there is nothing useful to relay.
			g.log.Warnf("no session key for offline member %s of %s, skipping relay copy", recipient, gm.GroupID)
			continue
		}
		g.relay.Queue(relay.QueueRequest{
			SenderID:            senderID,
			RecipientID:         recipient,
			EncryptedContent:    gm.EncryptedContent,
			EncryptedSessionKey: key,
		})
	}

	g.log.Infof("group %s fan-out: %d online, %d offline", gm.GroupID, res.Online, res.Offline)
	return res, nil
}
