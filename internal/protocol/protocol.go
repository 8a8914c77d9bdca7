// Package protocol defines the JSON frames exchanged over the real-time
// channel. Every frame, inbound or outbound, carries a "type" discriminator;
// the remaining fields depend on the type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
)

// Inbound frame types.
const (
	TypeRiderAuth           = "rider_auth"
	TypeAdminAuth           = "admin_auth"
	TypeStatusChange        = "status_change"
	TypeLocationUpdate      = "location_update"
	TypeHeartbeat           = "heartbeat"
	TypeAcceptDelivery      = "accept_delivery"
	TypeCompleteDelivery    = "complete_delivery"
	TypeReportIssue         = "report_issue"
	TypeEmergencyStop       = "emergency_stop"
	TypeOptimizeRoutes      = "optimize_routes"
	TypeProductStockChanged = "product_stock_changed"
	TypeInventoryUpdated    = "inventory_updated"
)

var ErrMissingType = errors.New("frame missing type")

// Frame is the inbound tagged union. Fields not relevant to a given type are
// simply absent; the router validates per type.
type Frame struct {
	Type       string           `json:"type"`
	RiderID    string           `json:"riderId,omitempty"`
	AdminID    string           `json:"adminId,omitempty"`
	Token      string           `json:"token,omitempty"`
	Status     string           `json:"status,omitempty"`
	Location   *models.Location `json:"location,omitempty"`
	DeliveryID string           `json:"deliveryId,omitempty"`
	Issue      string           `json:"issue,omitempty"`
	ProductID  string           `json:"productId,omitempty"`
	NewStock   *int             `json:"newStock,omitempty"`
	Adjustment int              `json:"adjustment,omitempty"`
	Inventory  json.RawMessage  `json:"inventory,omitempty"`
}

// Decode parses one inbound frame. A parse failure or missing discriminator
// is reported to the caller for logging; the connection itself stays open.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	return f, nil
}

// Outbound frames. Each struct fixes its own discriminator via the
// constructor so call sites cannot mismatch type and payload.

type Connected struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnected() Connected {
	return Connected{Type: "connected", Message: "connected to dispatch server"}
}

type AuthSuccess struct {
	Type    string             `json:"type"`
	RiderID string             `json:"riderId"`
	Status  models.RiderStatus `json:"status"`
}

func NewAuthSuccess(riderID string, status models.RiderStatus) AuthSuccess {
	return AuthSuccess{Type: "auth_success", RiderID: riderID, Status: status}
}

type AdminAuthSuccess struct {
	Type    string `json:"type"`
	AdminID string `json:"adminId"`
	Message string `json:"message"`
}

func NewAdminAuthSuccess(adminID string) AdminAuthSuccess {
	return AdminAuthSuccess{Type: "admin_auth_success", AdminID: adminID, Message: "admin authenticated"}
}

type StatusUpdate struct {
	Type      string             `json:"type"`
	Status    models.RiderStatus `json:"status"`
	Timestamp int64              `json:"timestamp"`
}

func NewStatusUpdate(status models.RiderStatus, at time.Time) StatusUpdate {
	return StatusUpdate{Type: "status_update", Status: status, Timestamp: at.UnixMilli()}
}

type RiderStatusChange struct {
	Type    string             `json:"type"`
	RiderID string             `json:"riderId"`
	Status  models.RiderStatus `json:"status"`
}

func NewRiderStatusChange(riderID string, status models.RiderStatus) RiderStatusChange {
	return RiderStatusChange{Type: "rider_status_change", RiderID: riderID, Status: status}
}

type RiderLocationUpdate struct {
	Type     string          `json:"type"`
	RiderID  string          `json:"riderId"`
	Location models.Location `json:"location"`
}

func NewRiderLocationUpdate(riderID string, loc models.Location) RiderLocationUpdate {
	return RiderLocationUpdate{Type: "rider_location_update", RiderID: riderID, Location: loc}
}

type NewDelivery struct {
	Type     string          `json:"type"`
	Delivery models.Delivery `json:"delivery"`
}

func NewNewDelivery(d models.Delivery) NewDelivery {
	return NewDelivery{Type: "new_delivery", Delivery: d}
}

type DeliveryAccepted struct {
	Type       string `json:"type"`
	DeliveryID string `json:"deliveryId"`
	RiderID    string `json:"riderId,omitempty"`
}

func NewDeliveryAccepted(deliveryID, riderID string) DeliveryAccepted {
	return DeliveryAccepted{Type: "delivery_accepted", DeliveryID: deliveryID, RiderID: riderID}
}

// DeliveryRejected is the targeted error event for an invalid accept or
// complete attempt. Only the originating connection ever sees it.
type DeliveryRejected struct {
	Type       string `json:"type"`
	DeliveryID string `json:"deliveryId"`
	Reason     string `json:"reason"`
}

func NewDeliveryRejected(deliveryID, reason string) DeliveryRejected {
	return DeliveryRejected{Type: "delivery_rejected", DeliveryID: deliveryID, Reason: reason}
}

type DeliveryUpdate struct {
	Type       string               `json:"type"`
	DeliveryID string               `json:"deliveryId"`
	Status     models.DeliveryState `json:"status"`
	Timestamp  int64                `json:"timestamp"`
}

func NewDeliveryUpdate(deliveryID string, state models.DeliveryState, at time.Time) DeliveryUpdate {
	return DeliveryUpdate{Type: "delivery_update", DeliveryID: deliveryID, Status: state, Timestamp: at.UnixMilli()}
}

type DeliveryCompleted struct {
	Type       string `json:"type"`
	DeliveryID string `json:"deliveryId"`
	RiderID    string `json:"riderId,omitempty"`
	Earnings   int    `json:"earnings,omitempty"`
}

func NewDeliveryCompleted(deliveryID, riderID string, earnings int) DeliveryCompleted {
	return DeliveryCompleted{Type: "delivery_completed", DeliveryID: deliveryID, RiderID: riderID, Earnings: earnings}
}

type EarningsUpdate struct {
	Type     string          `json:"type"`
	Earnings models.Earnings `json:"earnings"`
}

func NewEarningsUpdate(e models.Earnings) EarningsUpdate {
	return EarningsUpdate{Type: "earnings_update", Earnings: e}
}

type IssueReported struct {
	Type     string           `json:"type"`
	Issue    string           `json:"issue"`
	RiderID  string           `json:"riderId"`
	Location *models.Location `json:"location,omitempty"`
}

func NewIssueReported(riderID, issue string, loc *models.Location) IssueReported {
	return IssueReported{Type: "issue_reported", Issue: issue, RiderID: riderID, Location: loc}
}

type EmergencyAlert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	RiderID string `json:"riderId"`
}

func NewEmergencyAlert(riderID string) EmergencyAlert {
	return EmergencyAlert{
		Type:    "emergency_alert",
		Message: fmt.Sprintf("emergency stop activated by rider %s", riderID),
		RiderID: riderID,
	}
}

type RoutesOptimized struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewRoutesOptimized() RoutesOptimized {
	return RoutesOptimized{Type: "routes_optimized", Message: "routes optimized successfully"}
}

type ProductStockChanged struct {
	Type       string `json:"type"`
	ProductID  string `json:"productId"`
	NewStock   int    `json:"newStock"`
	Adjustment int    `json:"adjustment"`
}

func NewProductStockChanged(productID string, newStock, adjustment int) ProductStockChanged {
	return ProductStockChanged{Type: "product_stock_changed", ProductID: productID, NewStock: newStock, Adjustment: adjustment}
}

type InventoryUpdated struct {
	Type      string          `json:"type"`
	Inventory json.RawMessage `json:"inventory"`
}

func NewInventoryUpdated(inventory json.RawMessage) InventoryUpdated {
	return InventoryUpdated{Type: "inventory_updated", Inventory: inventory}
}
