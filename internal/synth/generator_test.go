package synth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/delivery-dispatch/internal/models"
)

func TestDeliveryShape(t *testing.T) {
	g := NewGenerator(42)
	for i := 0; i < 50; i++ {
		d := g.Delivery()
		assert.True(t, strings.HasPrefix(d.ID, "ORD"))
		assert.NotEmpty(t, d.CustomerName)
		assert.NotEmpty(t, d.Address)
		assert.True(t, strings.HasPrefix(d.CustomerPhone, "+91"))
		assert.Equal(t, models.DeliveryPending, d.State)
		assert.Empty(t, d.RiderID)
		assert.GreaterOrEqual(t, d.Total, 100)
		assert.Less(t, d.Total, 400)
		assert.GreaterOrEqual(t, d.DistanceKm, 1.9)
		assert.LessOrEqual(t, d.DistanceKm, 12.1)
		require.NotEmpty(t, d.Items)
		for _, item := range d.Items {
			assert.NotEmpty(t, item.Name)
			assert.Greater(t, item.Quantity, 0)
		}
	}
}

func TestBatchSizeAndUniqueness(t *testing.T) {
	g := NewGenerator(7)
	batch := g.Batch(3)
	require.Len(t, batch, 3)
	seen := make(map[string]bool)
	for _, d := range batch {
		assert.False(t, seen[d.ID], "delivery ids must be unique")
		seen[d.ID] = true
	}
}
