package geo

import (
	"math"
	"testing"
	"time"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantKm                 float64
		tolKm                  float64
	}{
		{name: "same point", lat1: 10.0, lon1: 106.0, lat2: 10.0, lon2: 106.0, wantKm: 0, tolKm: 0.001},
		{name: "short hop", lat1: 10.0, lon1: 106.0, lat2: 10.01, lon2: 106.01, wantKm: 1.56, tolKm: 0.05},
		{name: "city scale", lat1: 10.762, lon1: 106.660, lat2: 10.823, lon2: 106.629, wantKm: 7.6, tolKm: 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.wantKm) > tt.tolKm {
				t.Errorf("Distance = %f km, want %f ± %f", got, tt.wantKm, tt.tolKm)
			}
		})
	}
}

func TestDistanceSymmetry(t *testing.T) {
	t.Parallel()

	a := Distance(10.762, 106.660, 10.823, 106.629)
	b := Distance(10.823, 106.629, 10.762, 106.660)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", a, b)
	}
}

func TestBearingRange(t *testing.T) {
	t.Parallel()

	for _, pts := range [][4]float64{
		{10, 106, 11, 106},
		{10, 106, 10, 107},
		{10, 106, 9, 105},
	} {
		got := Bearing(pts[0], pts[1], pts[2], pts[3])
		if got < 0 || got >= 360 {
			t.Errorf("Bearing(%v) = %f, want [0, 360)", pts, got)
		}
	}

	north := Bearing(10, 106, 11, 106)
	if math.Abs(north) > 0.5 {
		t.Errorf("due-north bearing = %f, want ~0", north)
	}
}

func TestDeliveryEstimateMinutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		distanceKm float64
		want       int
	}{
		{0, 10},
		{1, 15},
		{1.1, 16}, // partial km rounds up
		{3, 25},
	}
	for _, tt := range tests {
		if got := DeliveryEstimateMinutes(tt.distanceKm); got != tt.want {
			t.Errorf("DeliveryEstimateMinutes(%f) = %d, want %d", tt.distanceKm, got, tt.want)
		}
	}
}

func TestArrivalEstimate(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	got := ArrivalEstimate(now, 2.4) // ceil(4.8) = 5 minutes
	want := now.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("ArrivalEstimate = %v, want %v", got, want)
	}

	// A closer position must never produce a later arrival.
	far := ArrivalEstimate(now, 3.0)
	near := ArrivalEstimate(now, 1.0)
	if near.After(far) {
		t.Errorf("nearer arrival %v after farther %v", near, far)
	}
}
