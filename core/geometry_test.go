package core

import (
	"math"
	"testing"
)

func TestHasLineOfSight_NoObstruction(t *testing.T) {
	// Two satellites high and on the same side of Earth, separated in Y.
	// The segment between them stays at x ≈ 8000 km, well outside Earth.
	posA := Vec3{X: 8000, Y: 0, Z: 0}
	posB := Vec3{X: 8000, Y: 1000, Z: 0}

	if !hasLineOfSight(posA, posB) {
		t.Errorf("expected LoS between two high satellites on same side of Earth")
	}
}

func TestHasLineOfSight_Obstructed(t *testing.T) {
	// Two points on opposite sides: the chord passes through the Earth.
	posA := Vec3{X: 7000, Y: 0, Z: 0}
	posB := Vec3{X: -7000, Y: 0, Z: 0}

	if hasLineOfSight(posA, posB) {
		t.Errorf("expected LoS to be blocked by Earth")
	}
}

func TestHasLineOfSight_SurfaceToZenith(t *testing.T) {
	ground := Vec3{X: EarthRadiusKm, Y: 0, Z: 0}
	sat := Vec3{X: EarthRadiusKm + 550, Y: 0, Z: 0}

	if !hasLineOfSight(ground, sat) {
		t.Errorf("expected LoS from surface point straight up")
	}
}

func TestElevationDegrees(t *testing.T) {
	ground := Vec3{X: EarthRadiusKm, Y: 0, Z: 0}

	cases := []struct {
		name   string
		target Vec3
		want   float64
		tol    float64
	}{
		{"zenith", Vec3{X: EarthRadiusKm + 550, Y: 0, Z: 0}, 90, 0.01},
		{"horizon", Vec3{X: EarthRadiusKm, Y: 1000, Z: 0}, 0, 0.01},
		{"below", Vec3{X: EarthRadiusKm - 1000, Y: 0, Z: 0}, -90, 0.01},
	}
	for _, tc := range cases {
		got := ElevationDegrees(ground, tc.target)
		if math.Abs(got-tc.want) > tc.tol {
			t.Errorf("%s: elevation = %.3f°, want %.3f°", tc.name, got, tc.want)
		}
	}
}

func TestGeodeticToECEF(t *testing.T) {
	cases := []struct {
		name             string
		lat, lon, altM   float64
		want             Vec3
		tolKm            float64
	}{
		{"equator-prime-meridian", 0, 0, 0, Vec3{X: EarthRadiusKm}, 1e-6},
		{"north-pole", 90, 0, 0, Vec3{Z: EarthRadiusKm}, 1e-6},
		{"equator-90E", 0, 90, 0, Vec3{Y: EarthRadiusKm}, 1e-6},
		{"equator-1km-up", 0, 0, 1000, Vec3{X: EarthRadiusKm + 1}, 1e-6},
	}
	for _, tc := range cases {
		got := GeodeticToECEF(tc.lat, tc.lon, tc.altM)
		if got.DistanceTo(tc.want) > tc.tolKm {
			t.Errorf("%s: GeodeticToECEF = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestVec3Basics(t *testing.T) {
	a := Vec3{X: 3, Y: 4, Z: 0}
	if got := a.Norm(); got != 5 {
		t.Errorf("Norm = %v, want 5", got)
	}
	if got := a.DistanceTo(Vec3{}); got != 5 {
		t.Errorf("DistanceTo origin = %v, want 5", got)
	}
	if got := a.Dot(Vec3{X: 1, Y: 1, Z: 1}); got != 7 {
		t.Errorf("Dot = %v, want 7", got)
	}
	if got := a.Sub(Vec3{X: 1, Y: 1, Z: 1}); got != (Vec3{X: 2, Y: 3, Z: -1}) {
		t.Errorf("Sub = %+v", got)
	}
}
