package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/internal/config"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/orchestrator"
	"github.com/ThomasTBO/rsr-sea-ice/internal/psep"
	"github.com/ThomasTBO/rsr-sea-ice/internal/rsr"
	"github.com/ThomasTBO/rsr-sea-ice/internal/sink"
	"github.com/ThomasTBO/rsr-sea-ice/kb"
)

func runApply(ctx context.Context, base config.Config, args []string, log logging.Logger) error {
	fs, c := newFlagSet("apply", base)
	fs.IntVar(&c.cfg.FitWorkers, "workers", c.cfg.FitWorkers, "fit workers, one result partition each")
	fs.IntVar(&c.cfg.SubBatchSize, "sub-batch", c.cfg.SubBatchSize, "targets per k-NN query and partition append")
	fs.IntVar(&c.cfg.Neighbors, "neighbors", c.cfg.Neighbors, "bursts per neighbourhood")
	fs.Float64Var(&c.cfg.CoverageKm, "coverage-km", c.cfg.CoverageKm, "drop targets farther than this from any measurement")
	fs.Float64Var(&c.cfg.GridStepKm, "grid-step-km", c.cfg.GridStepKm, "polar stereographic grid step")
	fs.BoolVar(&c.cfg.RebuildIndexPerWorker, "rebuild-index", c.cfg.RebuildIndexPerWorker, "build a private spatial index per worker")
	methods := fs.String("methods", strings.Join(c.cfg.FitMethods, ","), "optimizer methods tried in order (neldermead, bfgs, lbfgs, cg)")
	targetsPath := fs.String("targets", "", "explicit \"lat,lon\" target list (default: Arctic grid)")
	fs.StringVar(&c.cfg.MongoURI, "mongo-uri", c.cfg.MongoURI, "mirror fits into this MongoDB deployment")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	cfg := c.cfg
	cfg.FitMethods = config.SplitList(*methods)
	if err := cfg.Validate(); err != nil {
		return err
	}
	strategy, err := rsr.ParseStrategy(cfg.FitMethods)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	metrics, stopMetrics, err := c.metrics(ctx, log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	store, err := loadMeasurements(ctx, cfg.PsepDir(), log)
	if err != nil {
		return err
	}

	targets, err := orchestrator.DiscoverTargets(*targetsPath, cfg.GridStepKm, cfg.LatMin)
	if err != nil {
		return err
	}

	o := &orchestrator.Orchestrator{
		Store:                 store,
		Fitter:                rsr.NewHK(strategy),
		OutDir:                cfg.WorkDir,
		Workers:               cfg.FitWorkers,
		SubBatchSize:          cfg.SubBatchSize,
		Neighbors:             cfg.Neighbors,
		CoverageKm:            cfg.CoverageKm,
		RebuildIndexPerWorker: cfg.RebuildIndexPerWorker,
		ProgressInterval:      cfg.ProgressInterval,
		Metrics:               metrics,
		Log:                   log,
	}
	if cfg.MongoURI != "" {
		mirror, err := sink.DialMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logging.RunID(ctx))
		if err != nil {
			return err
		}
		defer func() {
			if err := mirror.Close(context.Background()); err != nil {
				log.Warn(ctx, "mongo disconnect failed", logging.Err(err))
			}
		}()
		o.Mirror = mirror.Partition
	}

	report, err := o.Run(ctx, targets)
	if report != nil {
		log.Info(ctx, "fit stage finished",
			logging.Int("targets", report.Targets),
			logging.Int("covered", report.Covered),
			logging.Int("fitted", report.Fitted()),
			logging.Int("partitions", len(report.Partitions)),
		)
	}
	return err
}

// loadMeasurements reads the extracted PSEP tables of dir.
func loadMeasurements(ctx context.Context, dir string, log logging.Logger) (*kb.MeasurementStore, error) {
	store := kb.NewMeasurementStore()
	unsubscribe := store.Subscribe(func(e kb.Event) {
		log.Debug(ctx, "psep file loaded", logging.Int("bursts", e.Count), logging.Int("total", e.Total))
	})
	defer unsubscribe()

	files, err := psep.LoadDir(dir, store)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "measurements loaded",
		logging.Int("files", files),
		logging.Count("bursts", store.Len()),
		logging.String("dir", dir),
	)
	return store, nil
}
