package core

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
)

// Neighbor is one result of a nearest-neighbour query. ID is the position of
// the point in the slice passed to BuildIndex.
type Neighbor struct {
	ID       int
	Point    Vec3
	Distance float64
}

// SpatialIndex is a balanced k-d tree over embedded points. It is read-only
// after BuildIndex and safe for concurrent queries.
type SpatialIndex struct {
	tree *kdtree.Tree
	size int
}

// BuildIndex indexes points, dropping any point with a non-finite
// coordinate. Identifiers are positions in the input slice, so callers can
// address their own payload arrays directly with query results.
func BuildIndex(ctx context.Context, points []Vec3, log logging.Logger) *SpatialIndex {
	if log == nil {
		log = logging.Noop()
	}

	pts := make(indexedPoints, 0, len(points))
	for i, p := range points {
		if !p.IsFinite() {
			continue
		}
		pts = append(pts, indexedPoint{Vec3: p, id: i})
	}
	log.Debug(ctx, "building spatial index",
		logging.Int("points_before_filter", len(points)),
		logging.Int("points_after_filter", len(pts)),
	)

	if len(pts) == 0 {
		return &SpatialIndex{}
	}
	return &SpatialIndex{tree: kdtree.New(pts, false), size: len(pts)}
}

// Len returns the number of indexed points.
func (ix *SpatialIndex) Len() int {
	if ix == nil {
		return 0
	}
	return ix.size
}

// Nearest returns the indexed point closest to target. ok is false on an
// empty index.
func (ix *SpatialIndex) Nearest(target Vec3) (Neighbor, bool) {
	if ix.Len() == 0 {
		return Neighbor{}, false
	}
	c, d2 := ix.tree.Nearest(indexedPoint{Vec3: target, id: -1})
	p, ok := c.(indexedPoint)
	if !ok {
		return Neighbor{}, false
	}
	return Neighbor{ID: p.id, Point: p.Vec3, Distance: math.Sqrt(d2)}, true
}

// KNearest returns up to k indexed points in increasing distance from
// target, ties ordered by identifier. When k exceeds the population every
// point is returned.
func (ix *SpatialIndex) KNearest(target Vec3, k int) []Neighbor {
	if ix.Len() == 0 || k <= 0 {
		return nil
	}
	if k > ix.size {
		k = ix.size
	}

	query := indexedPoint{Vec3: target, id: -1}
	keep := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keep, query)

	// NKeeper lets later finds displace earlier ones at equal distance, so
	// gather every point within the k-th distance and cut after sorting.
	kth := math.Inf(-1)
	for _, c := range keep.Heap {
		if _, ok := c.Comparable.(indexedPoint); ok && c.Dist > kth {
			kth = c.Dist
		}
	}
	found := keep.Heap
	if !math.IsInf(kth, -1) {
		within := kdtree.NewDistKeeper(kth)
		ix.tree.NearestSet(within, query)
		found = within.Heap
	}

	out := make([]Neighbor, 0, len(found))
	for _, c := range found {
		// Keepers seed their heap with a nil sentinel.
		p, ok := c.Comparable.(indexedPoint)
		if !ok {
			continue
		}
		out = append(out, Neighbor{ID: p.id, Point: p.Vec3, Distance: math.Sqrt(c.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Query runs KNearest for every target. Targets are spread across
// GOMAXPROCS goroutines; result i belongs to targets[i].
func (ix *SpatialIndex) Query(ctx context.Context, targets []Vec3, k int) ([][]Neighbor, error) {
	results := make([][]Neighbor, len(targets))
	if len(targets) == 0 {
		return results, nil
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(targets) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(targets); start += chunk {
		start, end := start, min(start+chunk, len(targets))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = ix.KNearest(targets[i], k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// indexedPoint implements kdtree.Comparable.
type indexedPoint struct {
	Vec3
	id int
}

func (p indexedPoint) coord(d kdtree.Dim) float64 {
	switch d {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(indexedPoint).coord(d)
}

func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return dx*dx + dy*dy + dz*dz
}

// indexedPoints implements kdtree.Interface.
type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p indexedPoints) Len() int                      { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p indexedPoints) Pivot(d kdtree.Dim) int {
	pl := pointPlane{points: p, dim: d}
	return kdtree.Partition(pl, kdtree.MedianOfMedians(pl))
}

// pointPlane sorts points along one dimension for pivot selection.
type pointPlane struct {
	points indexedPoints
	dim    kdtree.Dim
}

func (p pointPlane) Len() int { return len(p.points) }
func (p pointPlane) Less(i, j int) bool {
	return p.points[i].coord(p.dim) < p.points[j].coord(p.dim)
}
func (p pointPlane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{points: p.points[start:end], dim: p.dim}
}
