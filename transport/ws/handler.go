// This package serves the realtime websocket endpoint: one connection per
// (user, device), authenticated by a bearer token whose subject must match the
// declared user identity.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mercuryim/mercury/auth"
	"github.com/mercuryim/mercury/config"
	"github.com/mercuryim/mercury/envelope"
	"github.com/mercuryim/mercury/messaging"
	"go.uber.org/zap"
)

type Handler struct {
	log        *zap.SugaredLogger
	config     *config.Config
	verifier   auth.Verifier
	dispatcher *messaging.Dispatcher
	upgrader   websocket.Upgrader
}

func NewHandler(c *config.Config, v auth.Verifier, d *messaging.Dispatcher) *Handler {
	return &Handler{
		log:        c.Logger("transport/ws"),
		config:     c,
		verifier:   v,
		dispatcher: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ws/{user_id}", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	token := r.URL.Query().Get("token")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("upgrade failed for %s: %v", userID, err)
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil || claims.Subject != userID {
		// Refused before anything is registered.
		h.log.Warnf("refusing connection for %s: bad token or identity mismatch", userID)
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "policy violation"), deadline)
		_ = conn.Close()
		return
	}

	s := newSession(h.config, h.log, userID, conn)
	go s.writePump()

	h.dispatcher.Connect(userID, s)
	defer h.dispatcher.Disconnect(userID, s)
	defer func() {
		_ = s.Close()
	}()

	h.readLoop(r, s)
}

func (h *Handler) readLoop(r *http.Request, s *session) {
	s.conn.SetReadLimit(h.config.ReadLimitBytes)
	readWait := 2 * time.Duration(h.config.PingIntervalMs) * time.Millisecond
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("read error for %s: %v", s.userID, err)
			}
			return
		}
		in, err := envelope.Decode(data)
		if err != nil {
			// Malformed frames are dropped; the session stays open.
			h.log.Warnf("dropping malformed frame from %s: %v", s.userID, err)
			continue
		}
		h.dispatcher.HandleFrame(r.Context(), s.userID, in)
	}
}
