package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mercuryim/mercury/config"
	"go.uber.org/zap"
)

var (
	errSessionClosed  = errors.New("ws: session closed")
	errSendBufferFull = errors.New("ws: send buffer full")
)

// session is one live websocket connection. All writes go through a single
// writer goroutine fed by a buffered channel, which preserves per-connection
// send order. A full buffer means a consumer too slow to keep up; the session
// is then treated as dead and pruned by the presence layer.
type session struct {
	log    *zap.SugaredLogger
	userID string
	conn   *websocket.Conn

	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
}

func newSession(c *config.Config, log *zap.SugaredLogger, userID string, conn *websocket.Conn) *session {
	return &session{
		log:          log,
		userID:       userID,
		conn:         conn,
		out:          make(chan []byte, c.SendBufferSize),
		done:         make(chan struct{}),
		writeTimeout: time.Duration(c.WriteTimeoutMs) * time.Millisecond,
		pingInterval: time.Duration(c.PingIntervalMs) * time.Millisecond,
	}
}

// Send enqueues one event for delivery. It never blocks on the transport.
func (s *session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- data:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		return errSendBufferFull
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	defer func() {
		_ = s.conn.Close()
	}()

	for {
		select {
		case data := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debugf("write to %s failed: %v", s.userID, err)
				_ = s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.Close()
				return
			}
		case <-s.done:
			deadline := time.Now().Add(s.writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}
