package geo

import (
	"math"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(19.07, 72.87, 19.07, 72.87); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	// one degree of latitude is roughly 111 km everywhere
	d := Haversine(0, 0, 1, 0)
	if math.Abs(d-111195) > 200 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}
