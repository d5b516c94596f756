package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mercuryim/mercury/clock"
	"github.com/mercuryim/mercury/config"
	"go.uber.org/zap"
)

// QueueRequest describes one message to queue. TTL of zero uses the store default.
type QueueRequest struct {
	SenderID            string
	RecipientID         string
	EncryptedContent    string
	EncryptedSessionKey string
	CryptoVersion       string
	EncryptionAlgorithm string
	KDFAlgorithm        string
	Signatures          []json.RawMessage
	HasMedia            bool
	MediaRefs           []MediaRef
	TTL                 time.Duration
}

// Stats is a point-in-time snapshot of the store.
type Stats struct {
	TotalMessages        int `json:"total_messages"`
	DeliverableMessages  int `json:"deliverable_messages"`
	ExpiredMessages      int `json:"expired_messages"`
	AcknowledgedMessages int `json:"acknowledged_messages"`
	UniqueRecipients     int `json:"unique_recipients"`
}

// Store holds relay messages in a table keyed by id plus a secondary index keyed
// by recipient. Both are mutated under one lock so they can never disagree.
type Store struct {
	log           *zap.SugaredLogger
	clock         clock.Clock
	defaultTTL    time.Duration
	sweepInterval time.Duration

	lock        sync.Mutex
	messages    map[string]*Message
	byRecipient map[string]map[string]struct{}

	cancelFunc context.CancelFunc
	finished   sync.WaitGroup
}

func NewStore(c *config.Config, cl clock.Clock) *Store {
	return &Store{
		log:           c.Logger("relay/store"),
		clock:         cl,
		defaultTTL:    c.DefaultTTL,
		sweepInterval: c.SweepInterval,
		messages:      make(map[string]*Message),
		byRecipient:   make(map[string]map[string]struct{}),
	}
}

// Start launches the periodic expiry sweep.
func (s *Store) Start() {
	ctx, cancelFunc := context.WithCancel(context.Background())
	s.cancelFunc = cancelFunc
	s.finished.Add(1)
	go func() {
		defer s.finished.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}

func (s *Store) Shutdown() {
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.finished.Wait()
	}
}

// Queue stores a new message. It always succeeds as a write, independent of
// recipient presence, and never blocks on delivery.
func (s *Store) Queue(req QueueRequest) *Message {
	now := s.clock.Now()
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	msg := &Message{
		ID:                  uuid.NewString(),
		SenderID:            req.SenderID,
		RecipientID:         req.RecipientID,
		EncryptedContent:    req.EncryptedContent,
		EncryptedSessionKey: req.EncryptedSessionKey,
		CryptoVersion:       req.CryptoVersion,
		EncryptionAlgorithm: req.EncryptionAlgorithm,
		KDFAlgorithm:        req.KDFAlgorithm,
		Signatures:          req.Signatures,
		HasMedia:            req.HasMedia,
		MediaRefs:           req.MediaRefs,
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}
	if msg.CryptoVersion == "" {
		msg.CryptoVersion = DefaultCryptoVersion
	}
	if msg.EncryptionAlgorithm == "" {
		msg.EncryptionAlgorithm = DefaultEncryptionAlgorithm
	}
	if msg.KDFAlgorithm == "" {
		msg.KDFAlgorithm = DefaultKDFAlgorithm
	}

	s.lock.Lock()
	s.messages[msg.ID] = msg
	idx, ok := s.byRecipient[msg.RecipientID]
	if !ok {
		idx = make(map[string]struct{})
		s.byRecipient[msg.RecipientID] = idx
	}
	idx[msg.ID] = struct{}{}
	s.lock.Unlock()

	s.log.Debugf("queued message %s for %s, expires %s", msg.ID, msg.RecipientID, msg.ExpiresAt)
	return msg.clone()
}

// Pending returns every deliverable message for a recipient, incrementing each
// returned record's attempt counter. Repeated calls do not change deliverability.
func (s *Store) Pending(recipientID string) []*Message {
	now := s.clock.Now()

	s.lock.Lock()
	defer s.lock.Unlock()

	var pending []*Message
	for id := range s.byRecipient[recipientID] {
		msg, ok := s.messages[id]
		if !ok || !msg.Deliverable(now) {
			continue
		}
		msg.DeliveryAttempts++
		attemptAt := now
		msg.LastAttemptAt = &attemptAt
		pending = append(pending, msg.clone())
	}
	return pending
}

// Acknowledge deletes a message and its index entry. It is idempotent: an
// unknown id returns false, never an error.
func (s *Store) Acknowledge(messageID string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return false
	}
	s.removeLocked(msg)
	s.log.Debugf("acknowledged and deleted message %s", messageID)
	return true
}

// CleanupExpired removes every record past its expiry regardless of
// acknowledgment state and returns how many were removed.
func (s *Store) CleanupExpired() int {
	now := s.clock.Now()

	s.lock.Lock()
	defer s.lock.Unlock()

	var expired []*Message
	for _, msg := range s.messages {
		if msg.Expired(now) {
			expired = append(expired, msg)
		}
	}
	for _, msg := range expired {
		s.removeLocked(msg)
	}
	if len(expired) > 0 {
		s.log.Infof("swept %d expired messages", len(expired))
	}
	return len(expired)
}

func (s *Store) Stats() Stats {
	now := s.clock.Now()

	s.lock.Lock()
	defer s.lock.Unlock()

	st := Stats{
		TotalMessages:    len(s.messages),
		UniqueRecipients: len(s.byRecipient),
	}
	for _, msg := range s.messages {
		switch {
		case msg.Acknowledged:
			st.AcknowledgedMessages++
		case msg.Expired(now):
			st.ExpiredMessages++
		default:
			st.DeliverableMessages++
		}
	}
	return st
}

// removeLocked deletes one record-plus-index pair. Callers hold s.lock.
func (s *Store) removeLocked(msg *Message) {
	delete(s.messages, msg.ID)
	if idx, ok := s.byRecipient[msg.RecipientID]; ok {
		delete(idx, msg.ID)
		if len(idx) == 0 {
			delete(s.byRecipient, msg.RecipientID)
		}
	}
}
