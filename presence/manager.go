// This package tracks which users currently hold live connections. A user may be
// connected from several devices at once; presence is derived from the connection
// table, never stored separately.
package presence

import (
	"sync"

	"github.com/mercuryim/mercury/config"
	"go.uber.org/zap"
)

// Conn is one live transport session for one user. The websocket layer provides
// the production implementation; tests use in-memory fakes.
type Conn interface {
	Send(v any) error
	Close() error
}

// Notifier is invoked after a user transitions online or offline. It runs
// outside the manager lock, so it may call back into the manager.
type Notifier func(userID string, online bool)

// Manager owns the connection table. Connection-set mutation and presence
// recomputation happen as one step under a single lock.
type Manager struct {
	log      *zap.SugaredLogger
	notifier Notifier

	lock  sync.Mutex
	conns map[string][]Conn
}

func NewManager(c *config.Config) *Manager {
	return &Manager{
		log:   c.Logger("presence/manager"),
		conns: make(map[string][]Conn),
	}
}

func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// Register adds conn under userID and reports whether this was the user's first
// live connection.
func (m *Manager) Register(userID string, conn Conn) bool {
	m.lock.Lock()
	m.conns[userID] = append(m.conns[userID], conn)
	first := len(m.conns[userID]) == 1
	total := len(m.conns)
	m.lock.Unlock()

	m.log.Debugf("user %s connected, %d users online", userID, total)
	if first {
		m.notify(userID, true)
	}
	return first
}

// Unregister removes only conn from userID's set. Removing a handle that is
// already gone is a no-op. The offline notification fires only when the last
// connection goes away.
func (m *Manager) Unregister(userID string, conn Conn) {
	m.lock.Lock()
	conns, ok := m.conns[userID]
	if !ok {
		m.lock.Unlock()
		return
	}
	removed := false
	for i, c := range conns {
		if c == conn {
			m.conns[userID] = append(conns[:i], conns[i+1:]...)
			removed = true
			break
		}
	}
	last := removed && len(m.conns[userID]) == 0
	if last {
		delete(m.conns, userID)
	}
	m.lock.Unlock()

	if !removed {
		return
	}
	m.log.Debugf("user %s disconnected one device, last=%v", userID, last)
	if last {
		m.notify(userID, false)
	}
}

// SendPersonal pushes v to every connection userID currently holds. A failing
// connection is pruned and the loop continues. Returns true iff at least one
// connection received the message.
func (m *Manager) SendPersonal(userID string, v any) bool {
	m.lock.Lock()
	conns := make([]Conn, len(m.conns[userID]))
	copy(conns, m.conns[userID])
	m.lock.Unlock()

	delivered := false
	for _, c := range conns {
		if err := c.Send(v); err != nil {
			m.log.Warnf("send to %s failed, pruning connection: %v", userID, err)
			m.prune(userID, c)
			continue
		}
		delivered = true
	}
	return delivered
}

// Broadcast pushes v to every connection of every online user except exclude.
func (m *Manager) Broadcast(v any, exclude string) {
	m.lock.Lock()
	type target struct {
		user string
		conn Conn
	}
	var targets []target
	for user, conns := range m.conns {
		if user == exclude {
			continue
		}
		for _, c := range conns {
			targets = append(targets, target{user, c})
		}
	}
	m.lock.Unlock()

	for _, t := range targets {
		if err := t.conn.Send(v); err != nil {
			m.log.Warnf("broadcast to %s failed, pruning connection: %v", t.user, err)
			m.prune(t.user, t.conn)
		}
	}
}

func (m *Manager) Online(userID string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.conns[userID]) > 0
}

func (m *Manager) OnlineCount() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.conns)
}

// CloseAll closes every live connection and clears the table. Used at shutdown;
// no offline notifications are emitted.
func (m *Manager) CloseAll() {
	m.lock.Lock()
	var all []Conn
	for _, conns := range m.conns {
		all = append(all, conns...)
	}
	m.conns = make(map[string][]Conn)
	m.lock.Unlock()

	for _, c := range all {
		if err := c.Close(); err != nil {
			m.log.Debugf("error closing connection: %v", err)
		}
	}
}

// prune removes a dead connection through the same path as a normal disconnect,
// then closes it. Unregister only fires the offline notification when the set
// becomes empty, so siblings stay unaffected.
func (m *Manager) prune(userID string, conn Conn) {
	m.Unregister(userID, conn)
	if err := conn.Close(); err != nil {
		m.log.Debugf("error closing pruned connection for %s: %v", userID, err)
	}
}

func (m *Manager) notify(userID string, online bool) {
	if m.notifier != nil {
		m.notifier(userID, online)
	}
}
