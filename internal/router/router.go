// Package router decodes inbound frames into component calls and translates
// component failures into targeted error events. It is the single entry point
// for every message a connection sends.
package router

import (
	"errors"
	"log/slog"
	"time"

	"github.com/lucsky/cuid"

	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/ledger"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/presence"
	"github.com/example/delivery-dispatch/internal/protocol"
	"github.com/example/delivery-dispatch/internal/registry"
)

// EventPublisher exports dispatch events to the streaming collaborator.
type EventPublisher interface {
	Publish(ev ingest.Event) error
}

type Router struct {
	reg      *registry.Registry
	presence *presence.Tracker
	ledger   *ledger.Ledger
	events   EventPublisher // optional
	log      *slog.Logger

	// optimizeDelay is the fixed simulated latency of the route-optimizer
	// placeholder.
	optimizeDelay time.Duration
}

func New(reg *registry.Registry, tracker *presence.Tracker, led *ledger.Ledger, events EventPublisher, log *slog.Logger) *Router {
	return &Router{
		reg:           reg,
		presence:      tracker,
		ledger:        led,
		events:        events,
		log:           log,
		optimizeDelay: 2 * time.Second,
	}
}

// Handle processes one raw inbound frame from a connection. Nothing that
// happens inside may take down the connection's read loop: malformed input is
// logged and dropped, component failures become targeted error events, and a
// panic is recovered in place.
func (r *Router) Handle(connID string, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in frame handler", "conn_id", connID, "error", rec)
		}
	}()

	f, err := protocol.Decode(raw)
	if err != nil {
		observability.FramesInvalid.Inc()
		r.log.Warn("dropping malformed frame", "conn_id", connID, "error", err)
		return
	}
	observability.FramesTotal.WithLabelValues(f.Type).Inc()
	r.reg.Touch(connID)

	switch f.Type {
	case protocol.TypeRiderAuth:
		r.handleRiderAuth(connID, f)
	case protocol.TypeAdminAuth:
		r.handleAdminAuth(connID, f)
	case protocol.TypeStatusChange:
		r.handleStatusChange(connID, f)
	case protocol.TypeLocationUpdate:
		r.handleLocationUpdate(connID, f)
	case protocol.TypeHeartbeat:
		r.handleHeartbeat(connID)
	case protocol.TypeAcceptDelivery:
		r.handleAcceptDelivery(connID, f)
	case protocol.TypeCompleteDelivery:
		r.handleCompleteDelivery(connID, f)
	case protocol.TypeReportIssue:
		r.handleReportIssue(connID, f)
	case protocol.TypeEmergencyStop:
		r.handleEmergencyStop(connID, f)
	case protocol.TypeOptimizeRoutes:
		r.handleOptimizeRoutes(connID)
	case protocol.TypeProductStockChanged:
		r.handleProductStockChanged(f)
	case protocol.TypeInventoryUpdated:
		r.handleInventoryUpdated(f)
	default:
		observability.FramesInvalid.Inc()
		r.log.Warn("dropping unknown frame type", "conn_id", connID, "type", f.Type)
	}
}

// boundRider returns the rider identity bound to the connection, or false if
// the connection has not completed a rider auth handshake.
func (r *Router) boundRider(connID string) (string, bool) {
	role, identity, ok := r.reg.Lookup(connID)
	if !ok || role != models.RoleRider || identity == "" {
		return "", false
	}
	return identity, true
}

func (r *Router) handleRiderAuth(connID string, f protocol.Frame) {
	// The presented riderId (and token) is trusted as-is: the dispatch node
	// runs in a single trust domain behind the auth collaborator.
	riderID, status := r.presence.Authenticate(f.RiderID)
	if _, ok := r.reg.Bind(connID, models.RoleRider, riderID); !ok {
		return
	}
	r.reg.SendConn(connID, protocol.NewAuthSuccess(riderID, status))
	r.log.Info("rider authenticated", "rider_id", riderID, "conn_id", connID)
}

func (r *Router) handleAdminAuth(connID string, f protocol.Frame) {
	adminID := f.AdminID
	if adminID == "" {
		adminID = "admin_" + cuid.New()
	}
	if _, ok := r.reg.Bind(connID, models.RoleAdmin, adminID); !ok {
		return
	}
	r.reg.SendConn(connID, protocol.NewAdminAuthSuccess(adminID))
	r.log.Info("admin authenticated", "admin_id", adminID, "conn_id", connID)
}

func (r *Router) handleStatusChange(connID string, f protocol.Frame) {
	riderID, ok := r.boundRider(connID)
	if !ok {
		r.log.Warn("status_change from unauthenticated connection", "conn_id", connID)
		return
	}
	status := models.RiderStatus(f.Status)
	if err := r.presence.SetStatus(riderID, status); err != nil {
		r.log.Warn("status change rejected", "rider_id", riderID, "status", f.Status, "error", err)
		return
	}
	r.reg.SendConn(connID, protocol.NewStatusUpdate(status, time.Now()))
	r.reg.Broadcast(registry.Admins, protocol.NewRiderStatusChange(riderID, status))
	r.publish(ingest.Event{Type: "status_change", RiderID: riderID, Status: string(status)})

	if status == models.StatusOnline {
		offered := r.ledger.PublishAvailable(riderID)
		r.log.Info("published available deliveries", "rider_id", riderID, "offered", offered)
	}
}

func (r *Router) handleLocationUpdate(connID string, f protocol.Frame) {
	riderID, ok := r.boundRider(connID)
	if !ok {
		return
	}
	if f.Location == nil {
		r.log.Warn("location_update without location", "rider_id", riderID)
		return
	}
	if err := r.presence.UpdateLocation(riderID, *f.Location); err != nil {
		r.log.Warn("location update rejected", "rider_id", riderID, "error", err)
		return
	}
	r.reg.Broadcast(registry.Admins, protocol.NewRiderLocationUpdate(riderID, *f.Location))
	r.publish(ingest.Event{Type: "location_update", RiderID: riderID, Location: f.Location})
}

func (r *Router) handleHeartbeat(connID string) {
	if riderID, ok := r.boundRider(connID); ok {
		r.presence.Heartbeat(riderID)
	}
}

func (r *Router) handleAcceptDelivery(connID string, f protocol.Frame) {
	riderID, ok := r.boundRider(connID)
	if !ok {
		return
	}
	if f.DeliveryID == "" {
		r.log.Warn("accept_delivery without deliveryId", "rider_id", riderID)
		return
	}
	if _, err := r.ledger.Accept(f.DeliveryID, riderID); err != nil {
		r.reg.SendConn(connID, protocol.NewDeliveryRejected(f.DeliveryID, rejectionReason(err)))
		return
	}
	r.publish(ingest.Event{Type: "delivery_accepted", RiderID: riderID, DeliveryID: f.DeliveryID})
}

func (r *Router) handleCompleteDelivery(connID string, f protocol.Frame) {
	riderID, ok := r.boundRider(connID)
	if !ok {
		return
	}
	if f.DeliveryID == "" {
		r.log.Warn("complete_delivery without deliveryId", "rider_id", riderID)
		return
	}
	if _, err := r.ledger.Complete(f.DeliveryID, riderID); err != nil {
		r.reg.SendConn(connID, protocol.NewDeliveryRejected(f.DeliveryID, rejectionReason(err)))
		return
	}
	r.publish(ingest.Event{Type: "delivery_completed", RiderID: riderID, DeliveryID: f.DeliveryID})
}

func (r *Router) handleReportIssue(connID string, f protocol.Frame) {
	riderID, ok := r.boundRider(connID)
	if !ok {
		riderID = f.RiderID
	}
	r.reg.Broadcast(registry.Admins, protocol.NewIssueReported(riderID, f.Issue, f.Location))
}

func (r *Router) handleEmergencyStop(connID string, f protocol.Frame) {
	riderID, ok := r.boundRider(connID)
	if !ok {
		riderID = f.RiderID
	}
	r.log.Warn("emergency stop activated", "rider_id", riderID)
	r.reg.Broadcast(registry.Admins, protocol.NewEmergencyAlert(riderID))
}

// handleOptimizeRoutes acknowledges after a fixed simulated delay; a real
// routing optimizer is out of scope.
func (r *Router) handleOptimizeRoutes(connID string) {
	time.AfterFunc(r.optimizeDelay, func() {
		r.reg.SendConn(connID, protocol.NewRoutesOptimized())
	})
}

func (r *Router) handleProductStockChanged(f protocol.Frame) {
	if f.ProductID == "" || f.NewStock == nil {
		r.log.Warn("product_stock_changed missing fields")
		return
	}
	r.reg.Broadcast(registry.Everyone, protocol.NewProductStockChanged(f.ProductID, *f.NewStock, f.Adjustment))
}

func (r *Router) handleInventoryUpdated(f protocol.Frame) {
	if len(f.Inventory) == 0 {
		r.log.Warn("inventory_updated without payload")
		return
	}
	r.reg.Broadcast(registry.Everyone, protocol.NewInventoryUpdated(f.Inventory))
}

func (r *Router) publish(ev ingest.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ev); err != nil {
		r.log.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrDeliveryTaken):
		return "delivery already accepted"
	case errors.Is(err, ledger.ErrRiderBusy):
		return "you already have an active delivery"
	case errors.Is(err, ledger.ErrNotAssigned):
		return "delivery is assigned to another rider"
	case errors.Is(err, ledger.ErrUnknownDelivery):
		return "unknown delivery"
	case errors.Is(err, ledger.ErrTerminal):
		return "delivery already closed"
	}
	return "request rejected"
}
