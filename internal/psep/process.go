// Package psep runs the peak surface echo power extraction stage: archive
// products are fetched in batches, filtered to sea-ice floes, reduced to
// PSEP vectors and written as CSV.
package psep

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ThomasTBO/rsr-sea-ice/internal/echo"
	"github.com/ThomasTBO/rsr-sea-ice/internal/leadfilter"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/observability"
	"github.com/ThomasTBO/rsr-sea-ice/internal/product"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// progressEvery is the burst interval between progress log lines.
const progressEvery = 1000

// FileOptions tunes per-file extraction.
type FileOptions struct {
	Echo    echo.Options
	LatMin  float64
	Workers int
	Metrics *observability.PipelineCollector
	Log     logging.Logger
}

// ProcessFile filters the bursts of src and extracts the admissible ones on
// a pool of opts.Workers goroutines. Successful bursts are returned in burst
// order; failed bursts are counted and dropped.
func ProcessFile(ctx context.Context, src product.Source, classifier *leadfilter.Classifier, opts FileOptions) ([]model.Measurement, error) {
	log := opts.Log
	if log == nil {
		log = logging.Noop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}

	positions := src.Positions()
	admissible := leadfilter.FilterBursts(ctx, positions, classifier, opts.LatMin)
	opts.Metrics.AddFiltered(len(positions) - len(admissible))
	log.Info(ctx, "bursts to process",
		logging.Int("admissible", len(admissible)),
		logging.Int("bursts", len(positions)),
	)

	vectors := make([]model.PowerVector, len(admissible))
	succeeded := make([]bool, len(admissible))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for slot, idx := range admissible {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := src.Burst(idx)
			if err != nil {
				return fmt.Errorf("read burst %d: %w", idx, err)
			}
			v, ok := echo.ExtractBurst(b, opts.Echo)
			opts.Metrics.ObserveBurst(ok)
			if !ok {
				log.Debug(gctx, "burst extraction failed", logging.Int("burst", idx))
			}
			vectors[slot], succeeded[slot] = v, ok

			if n := done.Add(1); n%progressEvery == 0 {
				log.Info(gctx, "processing bursts", logging.Int("done", int(n)), logging.Int("total", len(admissible)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.Measurement, 0, len(admissible))
	for slot, idx := range admissible {
		if succeeded[slot] {
			out = append(out, model.Measurement{Position: positions[idx], Power: vectors[slot]})
		}
	}
	return out, nil
}
