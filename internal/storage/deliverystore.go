package storage

import (
	"sync"

	"github.com/example/delivery-dispatch/internal/models"
)

// DeliveryStore persists delivery records. The in-memory ledger remains the
// source of truth; writes here are best-effort bookkeeping for the external
// order-management collaborator.
type DeliveryStore interface {
	SaveDelivery(d *models.Delivery) error
	UpdateDelivery(d *models.Delivery) error
}

type MemoryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*models.Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deliveries: make(map[string]*models.Delivery)}
}

func (m *MemoryStore) SaveDelivery(d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateDelivery(d *models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(id string) (*models.Delivery, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	return d, ok
}
