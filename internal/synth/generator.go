// Package synth fabricates pending deliveries for demo deployments. In a
// production deployment the ledger is fed from the order-management
// collaborator instead; the ledger contract does not change either way.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jaswdr/faker"
	"github.com/lucsky/cuid"

	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/models"
)

// Depot is the origin all synthetic drop-offs are measured from.
const (
	depotLat = 19.0760
	depotLng = 72.8777
)

var groceryItems = []string{
	"Aashirvaad Atta",
	"Fresh Milk",
	"Fresh Vegetables",
	"Fruit Basket",
	"Rice Pack",
	"Cooking Oil",
	"Snacks Pack",
	"Soft Drinks",
	"Milk Pack",
	"Grocery Items",
}

type Generator struct {
	fake faker.Faker
	rng  *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	src := rand.NewSource(seed)
	return &Generator{
		fake: faker.NewWithSeed(src),
		rng:  rand.New(src),
	}
}

// Delivery fabricates one pending delivery: random customer, a drop-off
// placed 2-12 km from the depot, one or two grocery line items and a total in
// the 100-400 range.
func (g *Generator) Delivery() models.Delivery {
	bearing := g.rng.Float64() * 2 * math.Pi
	distM := (2 + g.rng.Float64()*10) * 1000
	dropLat := depotLat + distM*math.Cos(bearing)/111000
	dropLng := depotLng + distM*math.Sin(bearing)/(111000*math.Cos(depotLat*math.Pi/180))

	items := []models.DeliveryItem{
		{Name: groceryItems[g.rng.Intn(len(groceryItems))], Quantity: 1 + g.rng.Intn(4)},
	}
	if g.rng.Intn(2) == 0 {
		items = append(items, models.DeliveryItem{
			Name:     groceryItems[g.rng.Intn(len(groceryItems))],
			Quantity: 1 + g.rng.Intn(2),
		})
	}

	return models.Delivery{
		ID:            "ORD" + cuid.New(),
		CustomerName:  g.fake.Person().Name(),
		Address:       g.fake.Address().StreetAddress(),
		CustomerPhone: fmt.Sprintf("+91%d", 1000000000+g.rng.Int63n(9000000000)),
		Items:         items,
		Total:         100 + g.rng.Intn(300),
		DistanceKm:    math.Round(geo.Haversine(depotLat, depotLng, dropLat, dropLng)/100) / 10,
		State:         models.DeliveryPending,
		CreatedAt:     time.Now(),
	}
}

// Batch fabricates n pending deliveries.
func (g *Generator) Batch(n int) []models.Delivery {
	out := make([]models.Delivery, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Delivery())
	}
	return out
}
