// Package httpapi is the dispatch server's composition surface: the
// websocket accept loop, the snapshot read API for the admin dashboard
// collaborator, and the periodic maintenance jobs.
package httpapi

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/ledger"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/presence"
	"github.com/example/delivery-dispatch/internal/protocol"
	"github.com/example/delivery-dispatch/internal/registry"
	"github.com/example/delivery-dispatch/internal/router"
	"github.com/example/delivery-dispatch/internal/synth"
)

// RegistrySink adapts the connection registry to the ledger's event sink.
type RegistrySink struct {
	Reg *registry.Registry
}

func (s RegistrySink) ToRider(riderID string, v interface{}) { s.Reg.Send(riderID, v) }
func (s RegistrySink) ToAdmins(v interface{})                { s.Reg.Broadcast(registry.Admins, v) }

type Server struct {
	cfg     config.ServerConfig
	log     *slog.Logger
	reg     *registry.Registry
	tracker *presence.Tracker
	ledger  *ledger.Ledger
	router  *router.Router
	gen     *synth.Generator
	mux     *mux.Router
}

func NewServer(cfg config.ServerConfig, log *slog.Logger, reg *registry.Registry, tracker *presence.Tracker, led *ledger.Ledger, rt *router.Router, gen *synth.Generator) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		tracker: tracker,
		ledger:  led,
		router:  rt,
		gen:     gen,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The storefront, admin console and rider app are served from other
	// origins in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS upgrades the connection, registers it and runs its read loop.
// Messages from one connection are handled in order; connections interleave
// freely with each other.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	connID := s.reg.Register(conn)
	s.reg.SendConn(connID, protocol.NewConnected())
	s.log.Info("connection established", "conn_id", connID, "remote", r.RemoteAddr)

	defer func() {
		role, identity, ok := s.reg.Unregister(connID)
		_ = conn.Close()
		if !ok {
			return
		}
		// Presence cache goes; ledger assignments stay. An in-progress
		// delivery survives a transient drop and is still the rider's when
		// they reconnect.
		if role == models.RoleRider && identity != "" {
			s.tracker.Remove(identity)
		}
		s.log.Info("connection closed", "conn_id", connID, "identity", identity)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read error", "conn_id", connID, "error", err)
			}
			return
		}
		s.router.Handle(connID, raw)
	}
}

// Run executes the periodic maintenance jobs until the context is cancelled:
// the staleness sweep, the earnings push to online riders, and the synthetic
// work-feed top-up.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	// Seed the ledger so the first rider to come online has work to see.
	s.topUpPending()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
			s.pushEarnings()
			s.topUpPending()
		}
	}
}

func (s *Server) sweep(now time.Time) {
	evicted := s.tracker.SweepStale(now, s.cfg.SessionTimeout)
	for _, riderID := range evicted {
		// A rider who stopped heartbeating has no guaranteed live socket, so
		// the sweep drops the registry entry as well.
		s.reg.EvictIdentity(riderID)
	}
	if len(evicted) > 0 {
		s.log.Info("staleness sweep complete", "evicted", len(evicted))
	}
}

func (s *Server) pushEarnings() {
	for _, riderID := range s.tracker.OnlineRiders() {
		session := s.ledger.EarningsFor(riderID)
		e := models.Earnings{
			Today: 800 + rand.Intn(500) + session,
			Week:  5000 + rand.Intn(3000) + session,
			Month: 20000 + rand.Intn(12000) + session,
		}
		s.reg.Send(riderID, protocol.NewEarningsUpdate(e))
	}
}

func (s *Server) topUpPending() {
	if s.gen == nil {
		return
	}
	if s.ledger.PendingCount() >= s.cfg.PendingLowWater {
		return
	}
	for _, d := range s.gen.Batch(s.cfg.SyntheticBatch) {
		s.ledger.Add(d)
	}
}
