package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/logging"
	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/protocol"
)

type recordingSink struct {
	mu      sync.Mutex
	byRider map[string][]interface{}
	admins  []interface{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{byRider: make(map[string][]interface{})}
}

func (s *recordingSink) ToRider(riderID string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRider[riderID] = append(s.byRider[riderID], v)
}

func (s *recordingSink) ToAdmins(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admins = append(s.admins, v)
}

func (s *recordingSink) riderFrames(riderID string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interface{}, len(s.byRider[riderID]))
	copy(out, s.byRider[riderID])
	return out
}

func (s *recordingSink) adminFrames() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interface{}, len(s.admins))
	copy(out, s.admins)
	return out
}

func (s *recordingSink) riderHas(riderID string, pred func(interface{}) bool) bool {
	for _, f := range s.riderFrames(riderID) {
		if pred(f) {
			return true
		}
	}
	return false
}

func newTestLedger(sink EventSink) *Ledger {
	return New(logging.NewNop(), sink, nil, Config{
		MaxOfferStagger:  10 * time.Millisecond,
		ProgressInterval: 5 * time.Millisecond,
	})
}

func pendingDelivery(id string) models.Delivery {
	return models.Delivery{
		ID:           id,
		CustomerName: "Asha Kulkarni",
		Address:      "12 Hill Road",
		Total:        250,
		DistanceKm:   4.2,
		State:        models.DeliveryPending,
	}
}

func TestAcceptFirstWins(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))

	d, err := l.Accept("D1", "R1")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryAccepted, d.State)
	assert.Equal(t, "R1", d.RiderID)
	assert.False(t, d.AcceptedAt.IsZero())

	_, err = l.Accept("D1", "R2")
	assert.ErrorIs(t, err, ErrDeliveryTaken)

	// the loser gets nothing from the ledger; rejection frames are the
	// router's job
	got, ok := l.Get("D1")
	require.True(t, ok)
	assert.Equal(t, "R1", got.RiderID)
}

func TestAcceptIsSafeUnderConcurrency(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))

	const riders = 16
	var wg sync.WaitGroup
	results := make(chan error, riders)
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := l.Accept("D1", string(rune('A'+n)))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrDeliveryTaken)
		}
	}
	assert.Equal(t, 1, successes, "exactly one rider may win the race")
}

func TestRiderCannotHoldTwoActiveDeliveries(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))
	l.Add(pendingDelivery("D2"))

	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)
	_, err = l.Accept("D2", "R1")
	assert.ErrorIs(t, err, ErrRiderBusy)

	// finishing the first frees the rider for the second
	_, err = l.Complete("D1", "R1")
	require.NoError(t, err)
	_, err = l.Accept("D2", "R1")
	assert.NoError(t, err)
}

func TestCompleteOnlyByAssignedRider(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))
	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)

	_, err = l.Complete("D1", "R2")
	assert.ErrorIs(t, err, ErrNotAssigned)

	payout, err := l.Complete("D1", "R1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, payout, 50)
	assert.Less(t, payout, 150)
	assert.Equal(t, payout, l.EarningsFor("R1"))

	_, err = l.Complete("D1", "R1")
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestAcceptEmitsAckAndAdminBroadcast(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))
	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)

	require.True(t, sink.riderHas("R1", func(f interface{}) bool {
		a, ok := f.(protocol.DeliveryAccepted)
		return ok && a.DeliveryID == "D1"
	}))
	frames := sink.adminFrames()
	require.NotEmpty(t, frames)
	a, ok := frames[0].(protocol.DeliveryAccepted)
	require.True(t, ok)
	assert.Equal(t, "R1", a.RiderID)
}

func TestPublishAvailableOffersWithoutReserving(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))

	n1 := l.PublishAvailable("R1")
	n2 := l.PublishAvailable("R2")
	assert.Equal(t, 1, n1)
	assert.Equal(t, 1, n2, "offering does not reserve")

	offered := func(rider string) func() bool {
		return func() bool {
			return sink.riderHas(rider, func(f interface{}) bool {
				nd, ok := f.(protocol.NewDelivery)
				return ok && nd.Delivery.ID == "D1"
			})
		}
	}
	require.Eventually(t, offered("R1"), time.Second, time.Millisecond)
	require.Eventually(t, offered("R2"), time.Second, time.Millisecond)
}

func TestQueuedOfferDroppedOnceTaken(t *testing.T) {
	sink := newRecordingSink()
	l := New(logging.NewNop(), sink, nil, Config{
		MaxOfferStagger:  50 * time.Millisecond,
		ProgressInterval: time.Hour,
	})
	defer l.Close()
	l.Add(pendingDelivery("D1"))

	l.PublishAvailable("R2")
	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.False(t, sink.riderHas("R2", func(f interface{}) bool {
		_, ok := f.(protocol.NewDelivery)
		return ok
	}), "offer queued before acceptance is dropped at fire time")
}

func TestProgressTicksReachAssignedRiderOnly(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))
	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var stages []models.DeliveryState
		for _, f := range sink.riderFrames("R1") {
			if u, ok := f.(protocol.DeliveryUpdate); ok {
				stages = append(stages, u.Status)
			}
		}
		return len(stages) == 3 &&
			stages[0] == models.DeliveryPickedUp &&
			stages[1] == models.DeliveryOutForDelivery &&
			stages[2] == models.DeliveryArrived
	}, time.Second, time.Millisecond)

	d, _ := l.Get("D1")
	assert.Equal(t, models.DeliveryArrived, d.State)
}

func TestProgressStopsAfterCompletion(t *testing.T) {
	sink := newRecordingSink()
	l := New(logging.NewNop(), sink, nil, Config{
		MaxOfferStagger:  time.Millisecond,
		ProgressInterval: 20 * time.Millisecond,
	})
	defer l.Close()
	l.Add(pendingDelivery("D1"))
	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)
	_, err = l.Complete("D1", "R1")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	for _, f := range sink.riderFrames("R1") {
		_, isUpdate := f.(protocol.DeliveryUpdate)
		assert.False(t, isUpdate, "no progress ticks after a terminal state")
	}
}

func TestProgressStopsAfterCancellation(t *testing.T) {
	sink := newRecordingSink()
	l := New(logging.NewNop(), sink, nil, Config{
		MaxOfferStagger:  time.Millisecond,
		ProgressInterval: 20 * time.Millisecond,
	})
	defer l.Close()
	l.Add(pendingDelivery("D1"))
	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)
	require.NoError(t, l.Cancel("D1"))

	time.Sleep(60 * time.Millisecond)
	for _, f := range sink.riderFrames("R1") {
		_, isUpdate := f.(protocol.DeliveryUpdate)
		assert.False(t, isUpdate, "no progress ticks once the delivery is no longer active")
	}
	d, _ := l.Get("D1")
	assert.Equal(t, models.DeliveryCancelled, d.State)
}

func TestCancelReservedForOrderManagement(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))

	require.NoError(t, l.Cancel("D1"))
	d, _ := l.Get("D1")
	assert.Equal(t, models.DeliveryCancelled, d.State)
	assert.ErrorIs(t, l.Cancel("D1"), ErrTerminal)

	// cancelling an accepted delivery frees the rider
	l.Add(pendingDelivery("D2"))
	_, err := l.Accept("D2", "R1")
	require.NoError(t, err)
	require.NoError(t, l.Cancel("D2"))
	_, busy := l.ActiveFor("R1")
	assert.False(t, busy)
}

func TestSnapshotAndPendingCount(t *testing.T) {
	sink := newRecordingSink()
	l := newTestLedger(sink)
	defer l.Close()
	l.Add(pendingDelivery("D1"))
	l.Add(pendingDelivery("D2"))
	_, err := l.Accept("D1", "R1")
	require.NoError(t, err)

	assert.Equal(t, 1, l.PendingCount())
	assert.Len(t, l.Snapshot(), 2)
}
