package geo

import (
	"math"
	"testing"
)

func TestHaversineKmEquatorDegree(t *testing.T) {
	// One degree of longitude at the equator is ~111.19 km.
	d := HaversineKm(0, 0, 0, 1)
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("equator degree = %v km, want ~111.19", d)
	}
}

func TestHaversineKmZero(t *testing.T) {
	if d := HaversineKm(52.52, 13.405, 52.52, 13.405); d != 0 {
		t.Fatalf("same point distance = %v, want 0", d)
	}
}

func TestHaversineKmKnownCity(t *testing.T) {
	// Jakarta to Bandung, roughly 115-120 km.
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineKmSymmetry(t *testing.T) {
	a := HaversineKm(48.8566, 2.3522, 51.5074, -0.1278)
	b := HaversineKm(51.5074, -0.1278, 48.8566, 2.3522)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("asymmetric distance: %v vs %v", a, b)
	}
}
