// Package registry tracks every live real-time connection and the identity
// bound to it. It holds no business state; presence and delivery records live
// elsewhere and reference connections by identity only.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
)

// Conn is the minimal surface the registry needs from a transport
// connection. *websocket.Conn satisfies it; tests use an in-memory fake.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type entry struct {
	conn       Conn
	writeMu    sync.Mutex
	role       models.Role
	identity   string
	lastActive time.Time
}

// send serializes writes so concurrent fan-outs never interleave frames on
// one socket.
func (e *entry) send(v interface{}) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(v)
}

type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*entry
	byIdentity map[string]string
	log        *slog.Logger
	now        func() time.Time
}

func New(log *slog.Logger) *Registry {
	return &Registry{
		conns:      make(map[string]*entry),
		byIdentity: make(map[string]string),
		log:        log,
		now:        time.Now,
	}
}

// Register creates an unauthenticated entry for a freshly connected client
// and returns its connection id.
func (r *Registry) Register(c Conn) string {
	id := cuid.New()
	r.mu.Lock()
	r.conns[id] = &entry{conn: c, role: models.RoleUnauthenticated, lastActive: r.now()}
	r.mu.Unlock()
	observability.ConnectionsLive.Inc()
	return id
}

// Bind attaches a validated identity and role to a connection. If the
// identity is already bound to another connection, that older entry is
// evicted first: last connection wins for a given identity. Eviction does not
// touch presence; the caller's fresh auth refreshes it.
func (r *Registry) Bind(connID string, role models.Role, identity string) (evicted string, ok bool) {
	var evictedConn Conn
	r.mu.Lock()
	e, exists := r.conns[connID]
	if !exists {
		r.mu.Unlock()
		return "", false
	}
	if old, bound := r.byIdentity[identity]; bound && old != connID {
		if oe, live := r.conns[old]; live {
			evictedConn = oe.conn
			delete(r.conns, old)
			evicted = old
		}
	}
	// A connection re-authenticating under a new identity must release its
	// old reverse mapping, or sends and sweeps addressed to the old identity
	// keep resolving to this socket.
	if e.identity != "" && e.identity != identity && r.byIdentity[e.identity] == connID {
		delete(r.byIdentity, e.identity)
	}
	e.role = role
	e.identity = identity
	e.lastActive = r.now()
	r.byIdentity[identity] = connID
	r.mu.Unlock()

	if evictedConn != nil {
		observability.ConnectionsLive.Dec()
		_ = evictedConn.Close()
		r.log.Info("evicted superseded connection", "identity", identity, "conn_id", evicted)
	}
	return evicted, true
}

// Unregister removes an entry on transport close or error. The returned
// identity is empty when the identity has already rebound to a newer
// connection, so callers never tear down presence state that a reconnect is
// still using.
func (r *Registry) Unregister(connID string) (models.Role, string, bool) {
	r.mu.Lock()
	e, exists := r.conns[connID]
	if !exists {
		r.mu.Unlock()
		return models.RoleUnauthenticated, "", false
	}
	delete(r.conns, connID)
	identity := ""
	if e.identity != "" && r.byIdentity[e.identity] == connID {
		delete(r.byIdentity, e.identity)
		identity = e.identity
	}
	r.mu.Unlock()
	observability.ConnectionsLive.Dec()
	return e.role, identity, true
}

// EvictIdentity drops the live connection for an identity, if any. Used by
// the staleness sweep: a rider who stopped heartbeating has no guaranteed
// live socket, so both cleanup paths must cooperate.
func (r *Registry) EvictIdentity(identity string) bool {
	r.mu.Lock()
	connID, bound := r.byIdentity[identity]
	if !bound {
		r.mu.Unlock()
		return false
	}
	e := r.conns[connID]
	delete(r.conns, connID)
	delete(r.byIdentity, identity)
	r.mu.Unlock()
	if e != nil {
		_ = e.conn.Close()
	}
	observability.ConnectionsLive.Dec()
	return true
}

// Lookup reports the role and identity bound to a connection.
func (r *Registry) Lookup(connID string) (models.Role, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return models.RoleUnauthenticated, "", false
	}
	return e.role, e.identity, true
}

// Touch refreshes the connection's last-activity timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	if e, ok := r.conns[connID]; ok {
		e.lastActive = r.now()
	}
	r.mu.Unlock()
}

// Send is a best-effort unicast by identity. A missing or broken connection
// is not an error: queuing for offline clients is explicitly unsupported.
func (r *Registry) Send(identity string, v interface{}) {
	r.mu.RLock()
	connID, bound := r.byIdentity[identity]
	var e *entry
	if bound {
		e = r.conns[connID]
	}
	r.mu.RUnlock()
	if e == nil {
		return
	}
	if err := e.send(v); err != nil {
		r.log.Warn("unicast write failed", "identity", identity, "error", err)
	}
}

// SendConn unicasts to a specific connection, bound or not. Used for replies
// to connections that have not authenticated yet.
func (r *Registry) SendConn(connID string, v interface{}) {
	r.mu.RLock()
	e := r.conns[connID]
	r.mu.RUnlock()
	if e == nil {
		return
	}
	if err := e.send(v); err != nil {
		r.log.Warn("unicast write failed", "conn_id", connID, "error", err)
	}
}

// Broadcast fans out to every live connection whose role matches. A write
// failure on one socket is logged and skipped; it never aborts delivery to
// the remaining recipients.
func (r *Registry) Broadcast(match func(models.Role) bool, v interface{}) {
	r.mu.RLock()
	targets := make([]*entry, 0, len(r.conns))
	for _, e := range r.conns {
		if match(e.role) {
			targets = append(targets, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range targets {
		if err := e.send(v); err != nil {
			observability.BroadcastErrors.Inc()
			r.log.Warn("broadcast write failed", "identity", e.identity, "error", err)
		}
	}
}

// Admins matches dispatcher/monitoring connections.
func Admins(role models.Role) bool { return role == models.RoleAdmin }

// Everyone matches all live connections, authenticated or not.
func Everyone(models.Role) bool { return true }

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
