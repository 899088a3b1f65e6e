// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package store

import (
	"math"
	"testing"
)

func zpairs(m string, s float64) []struct {
	Member string
	Score  float64
} {
	return []struct {
		Member string
		Score  float64
	}{{Member: m, Score: s}}
}

func TestZAddZScoreZRank(t *testing.T) {
	z := NewZSetStore()
	z.ZAdd("k", zpairs("a", 1))
	z.ZAdd("k", zpairs("b", 2))
	z.ZAdd("k", zpairs("c", 0))

	if sc, ok := z.ZScore("k", "b"); !ok || sc != 2 {
		t.Fatalf("got %v ok=%v", sc, ok)
	}
	if rank, ok := z.ZRank("k", "a"); !ok || rank != 1 {
		t.Fatalf("expected rank 1 (c=0,a=1,b=2), got %d ok=%v", rank, ok)
	}
	if z.ZCard("k") != 3 {
		t.Fatalf("got %d", z.ZCard("k"))
	}
}

func TestZAddReturnsNewCountOnly(t *testing.T) {
	z := NewZSetStore()
	if n := z.ZAdd("k", zpairs("a", 1)); n != 1 {
		t.Fatalf("got %d", n)
	}
	if n := z.ZAdd("k", zpairs("a", 5)); n != 0 {
		t.Fatalf("expected 0 for score-only update, got %d", n)
	}
}

func TestZRangeOrder(t *testing.T) {
	z := NewZSetStore()
	z.ZAdd("k", zpairs("a", 3))
	z.ZAdd("k", zpairs("b", 1))
	z.ZAdd("k", zpairs("c", 2))

	got := z.ZRange("k", 0, -1)
	want := []string{"b", "c", "a"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestZRem(t *testing.T) {
	z := NewZSetStore()
	z.ZAdd("k", zpairs("a", 1))
	if !z.ZRem("k", "a") {
		t.Fatal("expected removal to report true")
	}
	if z.ZRem("k", "a") {
		t.Fatal("expected second removal to report false")
	}
}

func TestGeoAddPosRoundTrip(t *testing.T) {
	z := NewZSetStore()
	// Approximate coordinates for a well-known pair of Redis geo test fixtures.
	z.GeoAdd("geo", "palermo", 13.361389, 38.115556)
	z.GeoAdd("geo", "catania", 15.087269, 37.502669)

	lon, lat, ok := z.GeoPos("geo", "palermo")
	if !ok {
		t.Fatal("expected palermo to be present")
	}
	if math.Abs(lon-13.361389) > 1e-4 || math.Abs(lat-38.115556) > 1e-4 {
		t.Fatalf("got lon=%f lat=%f", lon, lat)
	}
}

func TestGeoDistApprox(t *testing.T) {
	z := NewZSetStore()
	z.GeoAdd("geo", "palermo", 13.361389, 38.115556)
	z.GeoAdd("geo", "catania", 15.087269, 37.502669)

	d, ok := z.GeoDist("geo", "palermo", "catania")
	if !ok {
		t.Fatal("expected both members present")
	}
	// Known real-world distance is ~166274 meters; geohash quantization
	// introduces a small error, so allow a generous tolerance.
	if math.Abs(d-166274) > 2000 {
		t.Fatalf("got %f meters", d)
	}
}

func TestGeoAddRejectsOutOfRangeCoordinates(t *testing.T) {
	z := NewZSetStore()
	if _, err := z.GeoAdd("geo", "toofar", 0, 95); err == nil {
		t.Fatal("expected an error for |lat| > 85.05112878")
	}
	if _, err := z.GeoAdd("geo", "toofar", 185, 0); err == nil {
		t.Fatal("expected an error for lon > 180")
	}
	if _, err := z.GeoAdd("geo", "ok", 13.361389, 38.115556); err != nil {
		t.Fatalf("expected valid coordinates to be accepted, got %v", err)
	}
}

func TestGeoSearchFindsNearby(t *testing.T) {
	z := NewZSetStore()
	z.GeoAdd("geo", "palermo", 13.361389, 38.115556)
	z.GeoAdd("geo", "catania", 15.087269, 37.502669)

	results := z.GeoSearch("geo", 15, 37, 200000)
	if len(results) != 2 {
		t.Fatalf("expected both members within 200km, got %v", results)
	}
	if results[0].Member != "catania" {
		t.Fatalf("expected catania nearest, got %v", results)
	}
}
