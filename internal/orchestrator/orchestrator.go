// Package orchestrator runs the fit stage: it filters targets to measured
// coverage, partitions them across workers and streams each worker's fits to
// its own result partition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ThomasTBO/rsr-sea-ice/core"
	"github.com/ThomasTBO/rsr-sea-ice/internal/grid"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/observability"
	"github.com/ThomasTBO/rsr-sea-ice/internal/rsr"
	"github.com/ThomasTBO/rsr-sea-ice/internal/sink"
	"github.com/ThomasTBO/rsr-sea-ice/model"
	"github.com/ThomasTBO/rsr-sea-ice/timectrl"
)

// ErrNoMeasurements is returned when the measurement store is empty.
var ErrNoMeasurements = errors.New("no measurements loaded")

// Measurements is the measured power table the fit stage reads.
type Measurements interface {
	core.PowerLookup
	Len() int
	Embedded() []core.Vec3
}

// Orchestrator holds the fit stage configuration. Zero fields take the
// defaults noted on each.
type Orchestrator struct {
	Store  Measurements
	Fitter rsr.Fitter
	OutDir string

	Workers      int     // default 8
	SubBatchSize int     // default 1000
	Neighbors    int     // default 1000
	CoverageKm   float64 // default 10

	// RebuildIndexPerWorker gives every worker a private index instead of
	// the shared read-only one.
	RebuildIndexPerWorker bool

	// Mirror, when set, returns an extra sink per worker. Mirror failures
	// are logged and counted; they never fail a partition.
	Mirror func(id int) sink.Sink

	ProgressInterval time.Duration // default 30s
	Clock            timectrl.Clock
	Metrics          *observability.PipelineCollector
	Log              logging.Logger
}

// PartitionReport summarises one worker.
type PartitionReport struct {
	ID        int
	Path      string
	Targets   int
	Converged int
}

// Report summarises a run.
type Report struct {
	Targets    int
	Covered    int
	Partitions []PartitionReport
}

// Fitted returns the number of targets written across all partitions.
func (r *Report) Fitted() int {
	n := 0
	for _, p := range r.Partitions {
		n += p.Targets
	}
	return n
}

func (o *Orchestrator) defaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.SubBatchSize <= 0 {
		o.SubBatchSize = 1000
	}
	if o.Neighbors <= 0 {
		o.Neighbors = 1000
	}
	if o.CoverageKm <= 0 {
		o.CoverageKm = 10
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = timectrl.SystemClock()
	}
	if o.Log == nil {
		o.Log = logging.Noop()
	}
	if o.Fitter == nil {
		o.Fitter = rsr.NewHK(nil)
	}
}

// Run fits every covered target. Workers run to completion even when a
// sibling fails; their errors are joined.
func (o *Orchestrator) Run(ctx context.Context, targets []model.GeoPoint) (*Report, error) {
	o.defaults()
	if o.Store == nil || o.Store.Len() == 0 {
		return nil, ErrNoMeasurements
	}

	embedded := o.Store.Embedded()
	shared := core.BuildIndex(ctx, embedded, o.Log)
	covered := core.FilterCovered(shared, targets, o.CoverageKm)
	o.Metrics.SetTargets(len(targets), len(covered))
	o.Log.Info(ctx, "targets filtered to coverage",
		logging.Int("targets", len(targets)),
		logging.Int("covered", len(covered)),
		logging.Float("coverage_km", o.CoverageKm),
	)

	// Workers with an empty chunk write no file, so partitions of an
	// earlier run must not survive into this one.
	stale, err := sink.RemovePartitions(o.OutDir)
	if err != nil {
		return nil, err
	}
	if stale > 0 {
		o.Log.Info(ctx, "removed previous result partitions", logging.Int("files", stale))
	}

	report := &Report{Targets: len(targets), Covered: len(covered)}
	ranges := Partition(len(covered), o.Workers)

	progress := timectrl.NewProgress(len(covered), o.ProgressInterval, o.Clock)
	progress.AddListener(func(s timectrl.Snapshot) {
		o.Log.Info(ctx, "fit progress",
			logging.Any("done", s.Done),
			logging.Any("total", s.Total),
			logging.Float("targets_per_sec", s.Rate()),
			logging.String("remaining", s.Remaining().Round(time.Second).String()),
		)
	})
	progressCtx, stopProgress := context.WithCancel(ctx)
	stopped := progress.Start(progressCtx)

	var wg sync.WaitGroup
	errs := make([]error, len(ranges))
	reports := make([]*PartitionReport, len(ranges))
	for id, r := range ranges {
		if r.Len() == 0 {
			continue
		}
		wg.Add(1)
		go func(id int, chunk []model.GeoPoint) {
			defer wg.Done()
			reports[id], errs[id] = o.runWorker(ctx, id, chunk, shared, embedded, progress)
		}(id, covered[r.Start:r.End])
	}
	wg.Wait()
	stopProgress()
	<-stopped

	for _, pr := range reports {
		if pr != nil {
			report.Partitions = append(report.Partitions, *pr)
		}
	}
	return report, errors.Join(errs...)
}

func (o *Orchestrator) runWorker(ctx context.Context, id int, chunk []model.GeoPoint, shared *core.SpatialIndex, embedded []core.Vec3, progress *timectrl.Progress) (_ *PartitionReport, err error) {
	log := o.Log.With(logging.Int("partition", id))
	ctx, span := observability.StartSpan(ctx, "rsr.partition", "partition", fmt.Sprint(id),
		attribute.Int("targets", len(chunk)))
	defer func() { observability.EndSpan(span, err) }()

	ix := shared
	if o.RebuildIndexPerWorker {
		ix = core.BuildIndex(ctx, embedded, log)
	}

	part, err := sink.CreatePartition(o.OutDir, id)
	if err != nil {
		return nil, fmt.Errorf("partition %d: %w", id, err)
	}
	out := sink.Tee{
		Primary: part,
		OnMirrorError: func(err error) {
			o.Metrics.AddMirrorFailure()
			log.Warn(ctx, "result mirror write failed", logging.Err(err))
		},
	}
	if o.Mirror != nil {
		out.Mirror = o.Mirror(id)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("partition %d: %w", id, cerr))
		}
	}()

	pr := &PartitionReport{ID: id, Path: part.Path()}
	log.Info(ctx, "partition started", logging.Int("targets", len(chunk)))
	for start := 0; start < len(chunk); start += o.SubBatchSize {
		if err := ctx.Err(); err != nil {
			return pr, err
		}
		batch := chunk[start:min(start+o.SubBatchSize, len(chunk))]
		records, err := o.fitBatch(ctx, ix, batch)
		if err != nil {
			return pr, fmt.Errorf("partition %d: %w", id, err)
		}
		if err := out.Append(ctx, records); err != nil {
			return pr, fmt.Errorf("partition %d: %w", id, err)
		}
		for _, r := range records {
			if r.Fit.Converged {
				pr.Converged++
			}
		}
		pr.Targets += len(records)
		progress.Add(len(records))
		log.Debug(ctx, "sub-batch written",
			logging.Int("first", start),
			logging.Int("targets", len(records)),
		)
	}
	log.Info(ctx, "partition finished",
		logging.Int("targets", pr.Targets),
		logging.Int("converged", pr.Converged),
		logging.String("output", pr.Path),
	)
	return pr, nil
}

func (o *Orchestrator) fitBatch(ctx context.Context, ix *core.SpatialIndex, batch []model.GeoPoint) ([]model.OutputRecord, error) {
	samples, err := core.Neighborhoods(ctx, ix, o.Store, batch, o.Neighbors)
	if err != nil {
		return nil, err
	}
	records := make([]model.OutputRecord, len(batch))
	for i, s := range samples {
		began := time.Now()
		fit, err := o.Fitter.Fit(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("fit (%g, %g): %w", batch[i].Lat, batch[i].Lon, err)
		}
		o.Metrics.ObserveFit(fit.Method, fit.Converged, time.Since(began))
		records[i] = model.OutputRecord{Target: batch[i], Fit: fit}
	}
	return records, nil
}

// DiscoverTargets reads an explicit "lat,lon" target list from path, or
// builds the Arctic grid when path is empty.
func DiscoverTargets(path string, stepKm, latMin float64) ([]model.GeoPoint, error) {
	if path == "" {
		return grid.Arctic(stepKm, latMin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets: %w", err)
	}
	defer f.Close()
	return grid.ParseTargets(f)
}
