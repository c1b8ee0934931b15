package core

import (
	"context"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// PowerLookup resolves an index id to its measured power vector.
type PowerLookup interface {
	Power(id int) model.PowerVector
}

// AssembleSample concatenates the power vectors of neighbours in the order
// given, which for query results is nearest first.
func AssembleSample(neighbors []Neighbor, powers PowerLookup) []float64 {
	out := make([]float64, 0, len(neighbors)*model.EchoesPerBurst)
	for _, n := range neighbors {
		v := powers.Power(n.ID)
		out = append(out, v[:]...)
	}
	return out
}

// Neighborhoods queries the k nearest measurements for every target and
// assembles their samples. Result i belongs to targets[i].
func Neighborhoods(ctx context.Context, ix *SpatialIndex, powers PowerLookup, targets []model.GeoPoint, k int) ([][]float64, error) {
	embedded := make([]Vec3, len(targets))
	for i, t := range targets {
		embedded[i] = LatLonToCartesian(t)
	}
	neighbors, err := ix.Query(ctx, embedded, k)
	if err != nil {
		return nil, err
	}
	samples := make([][]float64, len(targets))
	for i, ns := range neighbors {
		samples[i] = AssembleSample(ns, powers)
	}
	return samples, nil
}

// FilterCovered returns the targets whose nearest indexed point lies within
// maxKm (chord distance on the index sphere), preserving input order.
func FilterCovered(ix *SpatialIndex, targets []model.GeoPoint, maxKm float64) []model.GeoPoint {
	out := make([]model.GeoPoint, 0, len(targets))
	for _, t := range targets {
		q := LatLonToCartesian(t)
		if !q.IsFinite() {
			continue
		}
		n, ok := ix.Nearest(q)
		if ok && n.Distance < maxKm {
			out = append(out, t)
		}
	}
	return out
}
