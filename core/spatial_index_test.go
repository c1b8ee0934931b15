package core

import (
	"context"
	"math"
	"testing"

	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
)

func TestKNearestSinglePoint(t *testing.T) {
	p := ToCartesian(80, 10, EarthRadiusKm)
	ix := BuildIndex(context.Background(), []Vec3{p}, logging.Noop())

	got := ix.KNearest(ToCartesian(79, 11, EarthRadiusKm), 1)
	if len(got) != 1 || got[0].ID != 0 || got[0].Point != p {
		t.Fatalf("KNearest() = %+v, want the single indexed point", got)
	}
}

func TestKNearestLargerThanPopulation(t *testing.T) {
	pts := []Vec3{
		ToCartesian(80, 0, EarthRadiusKm),
		ToCartesian(81, 0, EarthRadiusKm),
		ToCartesian(82, 0, EarthRadiusKm),
	}
	ix := BuildIndex(context.Background(), pts, nil)

	got := ix.KNearest(ToCartesian(79, 0, EarthRadiusKm), 10)
	if len(got) != 3 {
		t.Fatalf("KNearest() returned %d points, want 3", len(got))
	}
	for i, want := range []int{0, 1, 2} {
		if got[i].ID != want {
			t.Fatalf("KNearest()[%d].ID = %d, want %d", i, got[i].ID, want)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Fatalf("distances not ascending: %+v", got)
		}
	}
}

func TestKNearestTiesOrderedByID(t *testing.T) {
	same := ToCartesian(75, 20, EarthRadiusKm)
	pts := []Vec3{ToCartesian(60, 0, EarthRadiusKm), same, same, same}
	ix := BuildIndex(context.Background(), pts, nil)

	got := ix.KNearest(same, 3)
	for i, want := range []int{1, 2, 3} {
		if got[i].ID != want {
			t.Fatalf("KNearest()[%d].ID = %d, want %d (%+v)", i, got[i].ID, want, got)
		}
	}
}

func TestKNearestTieAtCutKeepsLowestIDs(t *testing.T) {
	same := ToCartesian(78, -40, EarthRadiusKm)
	pts := []Vec3{same, same, same, same, same}
	ix := BuildIndex(context.Background(), pts, nil)

	got := ix.KNearest(same, 2)
	if len(got) != 2 || got[0].ID != 0 || got[1].ID != 1 {
		t.Fatalf("KNearest() = %+v, want ids [0 1]", got)
	}

	// One strictly closer point followed by a tie straddling the cut.
	near := ToCartesian(78.01, -40, EarthRadiusKm)
	pts = []Vec3{ToCartesian(60, 0, EarthRadiusKm), same, same, near, same}
	ix = BuildIndex(context.Background(), pts, nil)

	got = ix.KNearest(near, 3)
	for i, want := range []int{3, 1, 2} {
		if got[i].ID != want {
			t.Fatalf("KNearest()[%d].ID = %d, want %d (%+v)", i, got[i].ID, want, got)
		}
	}
}

func TestBuildIndexDropsNonFinite(t *testing.T) {
	pts := []Vec3{
		ToCartesian(80, 0, EarthRadiusKm),
		ToCartesian(math.NaN(), 0, EarthRadiusKm),
		ToCartesian(82, 0, EarthRadiusKm),
	}
	ix := BuildIndex(context.Background(), pts, nil)
	if ix.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ix.Len())
	}
	n, ok := ix.Nearest(ToCartesian(82, 0, EarthRadiusKm))
	if !ok || n.ID != 2 {
		t.Fatalf("Nearest() = %+v, %v; want id 2 (input position)", n, ok)
	}
}

func TestEmptyIndex(t *testing.T) {
	ix := BuildIndex(context.Background(), nil, nil)
	if _, ok := ix.Nearest(Vec3{}); ok {
		t.Fatalf("Nearest() on empty index should report !ok")
	}
	if got := ix.KNearest(Vec3{}, 5); got != nil {
		t.Fatalf("KNearest() on empty index = %+v", got)
	}
}

func TestQueryMatchesBruteForce(t *testing.T) {
	var pts []Vec3
	for lat := 72.0; lat < 80; lat += 0.5 {
		for lon := -30.0; lon < 30; lon += 3 {
			pts = append(pts, ToCartesian(lat, lon, EarthRadiusKm))
		}
	}
	ix := BuildIndex(context.Background(), pts, nil)

	targets := []Vec3{
		ToCartesian(74.2, 1.1, EarthRadiusKm),
		ToCartesian(78.9, -12.4, EarthRadiusKm),
		ToCartesian(72.0, 29.0, EarthRadiusKm),
	}
	const k = 7
	got, err := ix.Query(context.Background(), targets, k)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for ti, target := range targets {
		if len(got[ti]) != k {
			t.Fatalf("target %d: %d neighbours, want %d", ti, len(got[ti]), k)
		}
		// Every returned neighbour must be no farther than every excluded point.
		kth := got[ti][k-1].Distance
		picked := map[int]bool{}
		for _, n := range got[ti] {
			picked[n.ID] = true
		}
		for id, p := range pts {
			if !picked[id] && p.DistanceTo(target) < kth-1e-9 {
				t.Fatalf("target %d: point %d at %v closer than kth %v", ti, id, p.DistanceTo(target), kth)
			}
		}
	}
}

func TestQueryCancelled(t *testing.T) {
	ix := BuildIndex(context.Background(), []Vec3{ToCartesian(80, 0, EarthRadiusKm)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ix.Query(ctx, []Vec3{{X: 1}}, 1); err == nil {
		t.Fatalf("Query() on cancelled context should fail")
	}
}
