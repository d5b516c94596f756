// This package provides a high-level interface to the mercury relay server. It
// wires the ephemeral relay store, the presence registry, the dispatcher and the
// websocket/REST transports together behind one Start/Shutdown lifecycle. All
// state is owned by explicitly constructed objects; nothing lives in globals.
package mercury

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mercuryim/mercury/auth"
	"github.com/mercuryim/mercury/clock"
	"github.com/mercuryim/mercury/config"
	"github.com/mercuryim/mercury/directory"
	"github.com/mercuryim/mercury/history"
	"github.com/mercuryim/mercury/messaging"
	"github.com/mercuryim/mercury/presence"
	"github.com/mercuryim/mercury/pubsub"
	"github.com/mercuryim/mercury/relay"
	"github.com/mercuryim/mercury/transport/rest"
	"github.com/mercuryim/mercury/transport/ws"
	"go.uber.org/zap"
)

type Mercury struct {
	config     *config.Config
	log        *zap.SugaredLogger
	clock      clock.Clock
	relay      *relay.Store
	presence   *presence.Manager
	directory  *directory.SQLDirectory
	history    history.Writer
	publisher  *pubsub.Publisher
	dispatcher *messaging.Dispatcher
	server     *http.Server
	listener   net.Listener
}

func New(c *config.Config) (*Mercury, error) {
	log := c.Logger("mercury")
	cl := clock.NewSystemClock()

	dir, err := directory.Open(c)
	if err != nil {
		return nil, err
	}

	var hw history.Writer = history.Nop{}
	if c.HistoryPath != "" {
		sw, err := history.Open(c)
		if err != nil {
			_ = dir.Close()
			return nil, err
		}
		hw = sw
	}

	pub, err := pubsub.NewPublisher(c)
	if err != nil {
		if closer, ok := hw.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		_ = dir.Close()
		return nil, err
	}

	rs := relay.NewStore(c, cl)
	pm := presence.NewManager(c)
	disp := messaging.NewDispatcher(c, cl, rs, pm, dir, hw, pub)
	verifier := auth.NewJWT(c.TokenSecret)

	router := mux.NewRouter()
	ws.NewHandler(c, verifier, disp).Register(router)
	rest.NewAPI(c, verifier, disp, rs, pm).Register(router)

	return &Mercury{
		config:     c,
		log:        log,
		clock:      cl,
		relay:      rs,
		presence:   pm,
		directory:  dir,
		history:    hw,
		publisher:  pub,
		dispatcher: disp,
		server:     &http.Server{Addr: c.ListenAddr, Handler: router},
	}, nil
}

// Start launches the expiry sweep and the HTTP listener. Listen errors surface
// synchronously; serve errors are logged from the serving goroutine.
func (m *Mercury) Start() error {
	m.relay.Start()

	ln, err := net.Listen("tcp", m.config.ListenAddr)
	if err != nil {
		m.relay.Shutdown()
		return fmt.Errorf("mercury: error listening on %s: %w", m.config.ListenAddr, err)
	}
	m.listener = ln
	m.log.Infof("listening on %s", ln.Addr())

	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.log.Errorf("serve error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, useful when the config asked for :0.
func (m *Mercury) Addr() string {
	if m.listener == nil {
		return m.config.ListenAddr
	}
	return m.listener.Addr().String()
}

func (m *Mercury) Shutdown(ctx context.Context) error {
	var errs []error

	if err := m.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	m.presence.CloseAll()
	m.relay.Shutdown()
	if err := m.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := m.history.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.directory.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return fmt.Errorf("mercury: errors encountered during shutdown: %v", errs)
	}
	return nil
}

func (m *Mercury) Relay() *relay.Store {
	return m.relay
}

func (m *Mercury) Presence() *presence.Manager {
	return m.presence
}

func (m *Mercury) Dispatcher() *messaging.Dispatcher {
	return m.dispatcher
}

func (m *Mercury) Directory() *directory.SQLDirectory {
	return m.directory
}
