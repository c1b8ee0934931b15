package leadfilter

import (
	"context"

	"github.com/ThomasTBO/rsr-sea-ice/core"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// Classifier answers lead / sea-ice queries by nearest reference point. It
// is immutable and safe for concurrent use.
type Classifier struct {
	points []model.ClassifiedPoint
	index  *core.SpatialIndex
}

// NewClassifier indexes the reference points.
func NewClassifier(ctx context.Context, points []model.ClassifiedPoint, log logging.Logger) *Classifier {
	embedded := make([]core.Vec3, len(points))
	for i, p := range points {
		embedded[i] = core.LatLonToCartesian(p.Position)
	}
	return &Classifier{points: points, index: core.BuildIndex(ctx, embedded, log)}
}

// Len returns the number of indexed reference points.
func (c *Classifier) Len() int { return c.index.Len() }

// Nearest returns the reference point closest to p.
func (c *Classifier) Nearest(p model.GeoPoint) (model.ClassifiedPoint, bool) {
	n, ok := c.index.Nearest(core.LatLonToCartesian(p))
	if !ok {
		return model.ClassifiedPoint{}, false
	}
	return c.points[n.ID], true
}

// Admissible reports whether the nearest reference point to p is sea ice
// and not a lead. An empty classifier admits nothing.
func (c *Classifier) Admissible(p model.GeoPoint) bool {
	ref, ok := c.Nearest(p)
	return ok && ref.IsIceFloe()
}

// FilterBursts returns the indices of positions strictly north of latMin
// whose nearest reference point is a sea-ice floe, in input order.
func FilterBursts(ctx context.Context, positions []model.GeoPoint, c *Classifier, latMin float64) []int {
	log := logging.FromContext(ctx)

	var northern, kept []int
	for i, p := range positions {
		if p.Lat > latMin {
			northern = append(northern, i)
		}
	}
	for _, i := range northern {
		if c.Admissible(positions[i]) {
			kept = append(kept, i)
		}
	}
	log.Debug(ctx, "filtered bursts",
		logging.Int("bursts", len(positions)),
		logging.Int("north_of_lat_min", len(northern)),
		logging.Int("admissible", len(kept)),
	)
	return kept
}
