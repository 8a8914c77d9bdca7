// Package presence tracks per-rider status, last known location and
// last-seen time. Sessions are evicted by the periodic staleness sweep or by
// explicit disconnect, never by the registry.
package presence

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
)

var (
	ErrUnknownRider    = errors.New("unknown rider")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidLocation = errors.New("invalid location")
)

type session struct {
	status   models.RiderStatus
	location *models.Location
	lastSeen time.Time
}

type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*session
	mirror   geo.Mirror // optional, best-effort
	log      *slog.Logger
	now      func() time.Time
}

func NewTracker(log *slog.Logger, mirror geo.Mirror) *Tracker {
	return &Tracker{
		sessions: make(map[string]*session),
		mirror:   mirror,
		log:      log,
		now:      time.Now,
	}
}

// Authenticate is idempotent: it creates a session if absent, otherwise
// resets status to offline and refreshes last-seen. If the client supplied no
// rider id one is minted. The presented identity is trusted as-is; see the
// deployment notes on the single-trust-domain assumption.
func (t *Tracker) Authenticate(riderID string) (string, models.RiderStatus) {
	if riderID == "" {
		riderID = "rider_" + cuid.New()
	}
	t.mu.Lock()
	s, ok := t.sessions[riderID]
	if !ok {
		s = &session{}
		t.sessions[riderID] = s
	}
	s.status = models.StatusOffline
	s.lastSeen = t.now()
	t.updateOnlineGaugeLocked()
	t.mu.Unlock()
	return riderID, models.StatusOffline
}

// SetStatus transitions offline/online/busy and refreshes last-seen.
func (t *Tracker) SetStatus(riderID string, status models.RiderStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[riderID]
	if !ok {
		return ErrUnknownRider
	}
	s.status = status
	s.lastSeen = t.now()
	t.updateOnlineGaugeLocked()
	return nil
}

// UpdateLocation overwrites the cached location unconditionally. There is no
// sequence check on the client timestamp: a late retry can regress the cache
// to a stale fix. Known limitation, kept deliberately.
func (t *Tracker) UpdateLocation(riderID string, loc models.Location) error {
	if !validLocation(loc) {
		return ErrInvalidLocation
	}
	t.mu.Lock()
	s, ok := t.sessions[riderID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownRider
	}
	cp := loc
	s.location = &cp
	s.lastSeen = t.now()
	status := s.status
	t.mu.Unlock()

	if t.mirror != nil {
		if err := t.mirror.Upsert(riderID, loc, status); err != nil {
			t.log.Warn("geo mirror upsert failed", "rider_id", riderID, "error", err)
		}
	}
	return nil
}

// Heartbeat refreshes last-seen only.
func (t *Tracker) Heartbeat(riderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[riderID]
	if !ok {
		return false
	}
	s.lastSeen = t.now()
	return true
}

// Remove drops a session on explicit disconnect.
func (t *Tracker) Remove(riderID string) {
	t.mu.Lock()
	_, ok := t.sessions[riderID]
	delete(t.sessions, riderID)
	t.updateOnlineGaugeLocked()
	t.mu.Unlock()
	if ok && t.mirror != nil {
		if err := t.mirror.Remove(riderID); err != nil {
			t.log.Warn("geo mirror remove failed", "rider_id", riderID, "error", err)
		}
	}
}

// SweepStale evicts every session whose last-seen exceeds timeout and
// returns the evicted rider ids. Running it twice with no intervening
// activity evicts nothing the second time.
func (t *Tracker) SweepStale(now time.Time, timeout time.Duration) []string {
	var evicted []string
	t.mu.Lock()
	for id, s := range t.sessions {
		if now.Sub(s.lastSeen) > timeout {
			delete(t.sessions, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		t.updateOnlineGaugeLocked()
	}
	t.mu.Unlock()

	for _, id := range evicted {
		observability.SessionsEvicted.Inc()
		t.log.Info("evicted stale rider session", "rider_id", id)
		if t.mirror != nil {
			if err := t.mirror.Remove(id); err != nil {
				t.log.Warn("geo mirror remove failed", "rider_id", id, "error", err)
			}
		}
	}
	return evicted
}

// Get returns a copy of one rider's presence.
func (t *Tracker) Get(riderID string) (models.RiderPresence, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[riderID]
	if !ok {
		return models.RiderPresence{}, false
	}
	return presenceOf(riderID, s), true
}

// Snapshot returns the presence of every tracked rider, for the dashboard
// read path.
func (t *Tracker) Snapshot() map[string]models.RiderPresence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]models.RiderPresence, len(t.sessions))
	for id, s := range t.sessions {
		out[id] = presenceOf(id, s)
	}
	return out
}

// OnlineRiders lists riders currently in the online status.
func (t *Tracker) OnlineRiders() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, s := range t.sessions {
		if s.status == models.StatusOnline {
			out = append(out, id)
		}
	}
	return out
}

func presenceOf(id string, s *session) models.RiderPresence {
	p := models.RiderPresence{RiderID: id, Status: s.status, LastSeen: s.lastSeen}
	if s.location != nil {
		cp := *s.location
		p.Location = &cp
	}
	return p
}

func validLocation(loc models.Location) bool {
	if loc.Lat == 0 && loc.Lng == 0 {
		return false
	}
	return loc.Lat >= -90 && loc.Lat <= 90 && loc.Lng >= -180 && loc.Lng <= 180
}

func (t *Tracker) updateOnlineGaugeLocked() {
	n := 0
	for _, s := range t.sessions {
		if s.status == models.StatusOnline {
			n++
		}
	}
	observability.RidersOnline.Set(float64(n))
}
