// This package serves the relay REST surface used by clients before or without
// an open realtime session: send, acknowledge, pending, stats and cleanup.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mercuryim/mercury/auth"
	"github.com/mercuryim/mercury/config"
	"github.com/mercuryim/mercury/messaging"
	"github.com/mercuryim/mercury/presence"
	"github.com/mercuryim/mercury/relay"
	"go.uber.org/zap"
)

type contextKey int

const callerKey contextKey = 0

type API struct {
	log        *zap.SugaredLogger
	verifier   auth.Verifier
	dispatcher *messaging.Dispatcher
	relay      *relay.Store
	presence   *presence.Manager
}

func NewAPI(c *config.Config, v auth.Verifier, d *messaging.Dispatcher, rs *relay.Store, pm *presence.Manager) *API {
	return &API{
		log:        c.Logger("transport/rest"),
		verifier:   v,
		dispatcher: d,
		relay:      rs,
		presence:   pm,
	}
}

func (a *API) Register(r *mux.Router) {
	sr := r.PathPrefix("/api/relay").Subrouter()
	sr.Use(a.authenticate)
	sr.HandleFunc("/send", a.send).Methods(http.MethodPost)
	sr.HandleFunc("/acknowledge", a.acknowledge).Methods(http.MethodPost)
	sr.HandleFunc("/pending", a.pending).Methods(http.MethodGet)
	sr.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	sr.HandleFunc("/cleanup", a.cleanup).Methods(http.MethodPost)
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "missing bearer token"})
			return
		}
		claims, err := a.verifier.Verify(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid token"})
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func caller(r *http.Request) string {
	id, _ := r.Context().Value(callerKey).(string)
	return id
}

type sendRequest struct {
	RecipientID         string            `json:"recipient_id"`
	EncryptedContent    string            `json:"encrypted_content"`
	EncryptedSessionKey string            `json:"encrypted_session_key"`
	CryptoVersion       string            `json:"crypto_version"`
	EncryptionAlgorithm string            `json:"encryption_algorithm"`
	KDFAlgorithm        string            `json:"kdf_algorithm"`
	Signatures          []json.RawMessage `json:"signatures"`
	HasMedia            bool              `json:"has_media"`
	MediaRefs           []relay.MediaRef  `json:"media_refs"`
	TTLDays             int               `json:"ttl_days"`
}

func (a *API) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "malformed request"})
		return
	}
	if req.RecipientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "recipient_id is required"})
		return
	}

	msg, delivered, err := a.dispatcher.SendRelay(r.Context(), caller(r), relay.QueueRequest{
		RecipientID:         req.RecipientID,
		EncryptedContent:    req.EncryptedContent,
		EncryptedSessionKey: req.EncryptedSessionKey,
		CryptoVersion:       req.CryptoVersion,
		EncryptionAlgorithm: req.EncryptionAlgorithm,
		KDFAlgorithm:        req.KDFAlgorithm,
		Signatures:          req.Signatures,
		HasMedia:            req.HasMedia,
		MediaRefs:           req.MediaRefs,
		TTL:                 time.Duration(req.TTLDays) * 24 * time.Hour,
	})
	if errors.Is(err, messaging.ErrRecipientUnknown) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "recipient not found"})
		return
	}
	if err != nil {
		a.log.Errorf("send failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}

	status := "queued"
	if delivered {
		status = "delivered"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message_id": msg.ID,
		"status":     status,
		"expires_at": msg.ExpiresAt,
	})
}

type acknowledgeRequest struct {
	MessageID string `json:"message_id"`
}

// acknowledge is idempotent: an unknown id reports not_found without failing,
// per the ack-and-delete contract.
func (a *API) acknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "message_id is required"})
		return
	}
	status := "not_found"
	if a.dispatcher.Acknowledge(req.MessageID) {
		status = "deleted"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message_id": req.MessageID,
		"status":     status,
	})
}

func (a *API) pending(w http.ResponseWriter, r *http.Request) {
	msgs := a.relay.Pending(caller(r))
	if msgs == nil {
		msgs = []*relay.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"count":    len(msgs),
		"messages": msgs,
	})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	st := a.relay.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats": map[string]any{
			"total_messages":        st.TotalMessages,
			"deliverable_messages":  st.DeliverableMessages,
			"expired_messages":      st.ExpiredMessages,
			"acknowledged_messages": st.AcknowledgedMessages,
			"unique_recipients":     st.UniqueRecipients,
			"online_users":          a.presence.OnlineCount(),
		},
	})
}

func (a *API) cleanup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"deleted_count": a.relay.CleanupExpired(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
