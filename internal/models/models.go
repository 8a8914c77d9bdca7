package models

import "time"

// Role classifies a live connection. A connection starts unauthenticated and
// is promoted by an auth frame.
type Role string

const (
	RoleUnauthenticated Role = "unauthenticated"
	RoleRider           Role = "rider"
	RoleAdmin           Role = "admin"
)

// RiderStatus is a rider's presence state.
type RiderStatus string

const (
	StatusOffline RiderStatus = "offline"
	StatusOnline  RiderStatus = "online"
	StatusBusy    RiderStatus = "busy"
)

func (s RiderStatus) Valid() bool {
	switch s {
	case StatusOffline, StatusOnline, StatusBusy:
		return true
	}
	return false
}

// Location is a rider-reported geolocation. CapturedAt is the client's
// epoch-millis timestamp and is not used for ordering (last write wins).
type Location struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Accuracy   float64 `json:"accuracy,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	CapturedAt int64   `json:"timestamp,omitempty"`
}

// RiderPresence is the externally visible presence record for one rider.
type RiderPresence struct {
	RiderID  string      `json:"riderId"`
	Status   RiderStatus `json:"status"`
	Location *Location   `json:"location,omitempty"`
	LastSeen time.Time   `json:"lastSeen"`
}

// DeliveryState is the lifecycle state of a delivery.
type DeliveryState string

const (
	DeliveryPending        DeliveryState = "pending"
	DeliveryAccepted       DeliveryState = "accepted"
	DeliveryPickedUp       DeliveryState = "picked_up"
	DeliveryOutForDelivery DeliveryState = "out_for_delivery"
	DeliveryArrived        DeliveryState = "arrived"
	DeliveryCompleted      DeliveryState = "completed"
	DeliveryCancelled      DeliveryState = "cancelled"
)

// ProgressStages is the fixed in-flight sequence pushed to the assigned rider
// on a timer once a delivery is accepted.
var ProgressStages = []DeliveryState{DeliveryPickedUp, DeliveryOutForDelivery, DeliveryArrived}

// Terminal reports whether no further transitions are allowed.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryCompleted || s == DeliveryCancelled
}

// Active reports whether the state counts against the one-active-delivery-
// per-rider invariant.
func (s DeliveryState) Active() bool {
	switch s {
	case DeliveryAccepted, DeliveryPickedUp, DeliveryOutForDelivery, DeliveryArrived:
		return true
	}
	return false
}

type DeliveryItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Delivery is one unit of dispatch work. Clients only ever see copies; the
// ledger owns the mutable record.
type Delivery struct {
	ID            string         `json:"id"`
	CustomerName  string         `json:"customerName"`
	Address       string         `json:"address"`
	CustomerPhone string         `json:"customerPhone"`
	Items         []DeliveryItem `json:"items"`
	Total         int            `json:"total"`
	DistanceKm    float64        `json:"distance"`
	State         DeliveryState  `json:"state"`
	RiderID       string         `json:"riderId,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	AcceptedAt    time.Time      `json:"acceptedAt,omitempty"`
	CompletedAt   time.Time      `json:"completedAt,omitempty"`
}

// Earnings is the periodic earnings snapshot pushed to online riders.
type Earnings struct {
	Today int `json:"today"`
	Week  int `json:"week"`
	Month int `json:"month"`
}
