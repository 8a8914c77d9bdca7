// Package ledger is the in-memory record of deliveries in flight and the
// only component allowed to mutate their lifecycle state.
package ledger

import (
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/observability"
	"github.com/example/delivery-dispatch/internal/protocol"
	"github.com/example/delivery-dispatch/internal/storage"
)

var (
	ErrUnknownDelivery = errors.New("unknown delivery")
	ErrDeliveryTaken   = errors.New("delivery already accepted")
	ErrRiderBusy       = errors.New("rider already has an active delivery")
	ErrNotAssigned     = errors.New("delivery not assigned to rider")
	ErrTerminal        = errors.New("delivery already in a terminal state")
)

// EventSink receives the events the ledger emits as side effects of state
// transitions. The dispatch server backs it with the connection registry;
// tests use a recording fake.
type EventSink interface {
	ToRider(riderID string, v interface{})
	ToAdmins(v interface{})
}

type Config struct {
	// MaxOfferStagger bounds the random delay before each new_delivery offer,
	// so a rider who just came online is not hit with every pending delivery
	// at once.
	MaxOfferStagger time.Duration
	// ProgressInterval is the cadence of the scheduled picked_up /
	// out_for_delivery / arrived ticks after acceptance.
	ProgressInterval time.Duration
}

type Ledger struct {
	mu            sync.Mutex
	deliveries    map[string]*models.Delivery
	activeByRider map[string]string
	payouts       map[string]int

	sink  EventSink
	store storage.DeliveryStore // optional write-through
	log   *slog.Logger
	cfg   Config
	now   func() time.Time

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(log *slog.Logger, sink EventSink, store storage.DeliveryStore, cfg Config) *Ledger {
	if cfg.MaxOfferStagger <= 0 {
		cfg.MaxOfferStagger = 5 * time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 10 * time.Second
	}
	return &Ledger{
		deliveries:    make(map[string]*models.Delivery),
		activeByRider: make(map[string]string),
		payouts:       make(map[string]int),
		sink:          sink,
		store:         store,
		log:           log,
		cfg:           cfg,
		now:           time.Now,
		quit:          make(chan struct{}),
	}
}

// Close stops in-flight offer timers and progress tickers.
func (l *Ledger) Close() {
	close(l.quit)
	l.wg.Wait()
}

// Add registers a new pending delivery, whatever its source (order feed or
// synthetic generator).
func (l *Ledger) Add(d models.Delivery) {
	d.State = models.DeliveryPending
	d.RiderID = ""
	if d.CreatedAt.IsZero() {
		d.CreatedAt = l.now()
	}
	l.mu.Lock()
	cp := d
	l.deliveries[d.ID] = &cp
	l.mu.Unlock()
	l.persist(&d, true)
}

// PublishAvailable offers every still-pending delivery to one rider, each
// offer delayed by an independent random stagger. Offers never reserve: the
// same delivery may be offered to any number of riders, and the first Accept
// wins. Returns the number of offers scheduled.
func (l *Ledger) PublishAvailable(riderID string) int {
	l.mu.Lock()
	pending := make([]string, 0)
	for id, d := range l.deliveries {
		if d.State == models.DeliveryPending {
			pending = append(pending, id)
		}
	}
	l.mu.Unlock()

	for _, id := range pending {
		deliveryID := id
		delay := time.Duration(rand.Int63n(int64(l.cfg.MaxOfferStagger)))
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			select {
			case <-time.After(delay):
			case <-l.quit:
				return
			}
			l.mu.Lock()
			d, ok := l.deliveries[deliveryID]
			if !ok || d.State != models.DeliveryPending {
				// taken while the offer was queued; drop it quietly
				l.mu.Unlock()
				return
			}
			cp := *d
			l.mu.Unlock()
			observability.DeliveriesOffered.Inc()
			l.sink.ToRider(riderID, protocol.NewNewDelivery(cp))
		}()
	}
	return len(pending)
}

// Accept transitions pending -> accepted for exactly one rider. The pending
// check and the accepted set happen under one mutex hold, which is what keeps
// the race-to-accept safe with a read goroutine per connection.
func (l *Ledger) Accept(deliveryID, riderID string) (models.Delivery, error) {
	l.mu.Lock()
	d, ok := l.deliveries[deliveryID]
	if !ok {
		l.mu.Unlock()
		return models.Delivery{}, ErrUnknownDelivery
	}
	if d.State != models.DeliveryPending {
		l.mu.Unlock()
		observability.AcceptRejections.Inc()
		return models.Delivery{}, ErrDeliveryTaken
	}
	if _, busy := l.activeByRider[riderID]; busy {
		l.mu.Unlock()
		observability.AcceptRejections.Inc()
		return models.Delivery{}, ErrRiderBusy
	}
	d.State = models.DeliveryAccepted
	d.RiderID = riderID
	d.AcceptedAt = l.now()
	l.activeByRider[riderID] = deliveryID
	cp := *d
	l.mu.Unlock()

	observability.DeliveriesAccepted.Inc()
	l.persist(&cp, false)
	l.sink.ToRider(riderID, protocol.NewDeliveryAccepted(deliveryID, ""))
	l.sink.ToAdmins(protocol.NewDeliveryAccepted(deliveryID, riderID))
	l.startProgress(deliveryID, riderID)
	return cp, nil
}

// Complete transitions to completed, but only for the assigned rider. The
// payout is a pseudo-random stand-in for a real settlement calculation.
func (l *Ledger) Complete(deliveryID, riderID string) (int, error) {
	l.mu.Lock()
	d, ok := l.deliveries[deliveryID]
	if !ok {
		l.mu.Unlock()
		return 0, ErrUnknownDelivery
	}
	if d.State.Terminal() {
		l.mu.Unlock()
		return 0, ErrTerminal
	}
	if d.RiderID != riderID {
		l.mu.Unlock()
		return 0, ErrNotAssigned
	}
	d.State = models.DeliveryCompleted
	d.CompletedAt = l.now()
	payout := 50 + rand.Intn(100)
	l.payouts[riderID] += payout
	delete(l.activeByRider, riderID)
	cp := *d
	l.mu.Unlock()

	observability.DeliveriesCompleted.Inc()
	l.persist(&cp, false)
	l.sink.ToRider(riderID, protocol.NewDeliveryCompleted(deliveryID, "", payout))
	l.sink.ToAdmins(protocol.NewDeliveryCompleted(deliveryID, riderID, 0))
	return payout, nil
}

// Cancel is the terminal exit reserved for the external order-management
// collaborator. It is never called from disconnect or sweep paths: a
// disconnected rider keeps their assignment so a transient drop mid-delivery
// does not orphan the order.
func (l *Ledger) Cancel(deliveryID string) error {
	l.mu.Lock()
	d, ok := l.deliveries[deliveryID]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownDelivery
	}
	if d.State != models.DeliveryPending && d.State != models.DeliveryAccepted {
		l.mu.Unlock()
		return ErrTerminal
	}
	d.State = models.DeliveryCancelled
	if d.RiderID != "" {
		delete(l.activeByRider, d.RiderID)
	}
	cp := *d
	l.mu.Unlock()
	l.persist(&cp, false)
	return nil
}

// startProgress walks the delivery through the fixed picked_up ->
// out_for_delivery -> arrived sequence on a timer, pushing each step to the
// assigned rider only. It stops as soon as the delivery leaves its hands.
func (l *Ledger) startProgress(deliveryID, riderID string) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.ProgressInterval)
		defer ticker.Stop()
		for _, stage := range models.ProgressStages {
			select {
			case <-ticker.C:
			case <-l.quit:
				return
			}
			l.mu.Lock()
			d, ok := l.deliveries[deliveryID]
			if !ok || !d.State.Active() || d.RiderID != riderID {
				l.mu.Unlock()
				return
			}
			d.State = stage
			cp := *d
			l.mu.Unlock()
			l.persist(&cp, false)
			l.sink.ToRider(riderID, protocol.NewDeliveryUpdate(deliveryID, stage, l.now()))
		}
	}()
}

// EarningsFor returns the rider's accumulated payouts for this process
// lifetime.
func (l *Ledger) EarningsFor(riderID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payouts[riderID]
}

// PendingCount reports how many deliveries are still unassigned.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, d := range l.deliveries {
		if d.State == models.DeliveryPending {
			n++
		}
	}
	return n
}

// ActiveFor returns the rider's active delivery id, if any.
func (l *Ledger) ActiveFor(riderID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.activeByRider[riderID]
	return id, ok
}

// Get returns a copy of one delivery record.
func (l *Ledger) Get(deliveryID string) (models.Delivery, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.deliveries[deliveryID]
	if !ok {
		return models.Delivery{}, false
	}
	return *d, true
}

// Snapshot returns copies of every delivery record, for the dashboard read
// path.
func (l *Ledger) Snapshot() []models.Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Delivery, 0, len(l.deliveries))
	for _, d := range l.deliveries {
		out = append(out, *d)
	}
	return out
}

func (l *Ledger) persist(d *models.Delivery, create bool) {
	if l.store == nil {
		return
	}
	var err error
	if create {
		err = l.store.SaveDelivery(d)
	} else {
		err = l.store.UpdateDelivery(d)
	}
	if err != nil {
		l.log.Warn("delivery store write failed", "delivery_id", d.ID, "error", err)
	}
}
