package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/internal/aggregate"
	"github.com/ThomasTBO/rsr-sea-ice/internal/config"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/orchestrator"
	"github.com/ThomasTBO/rsr-sea-ice/internal/rsr"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

func runDiagnose(ctx context.Context, base config.Config, args []string, log logging.Logger) error {
	fs, c := newFlagSet("diagnose", base)
	fs.IntVar(&c.cfg.Neighbors, "neighbors", c.cfg.Neighbors, "bursts per neighbourhood")
	fs.IntVar(&c.cfg.PDFSamples, "pdf-samples", c.cfg.PDFSamples, "density evaluation points per target")
	methods := fs.String("methods", strings.Join(c.cfg.FitMethods, ","), "optimizer methods tried in order")
	points := fs.String("points", "", "targets as \"lat,lon;lat,lon\"")
	targetsPath := fs.String("targets", "", "\"lat,lon\" target list file")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	cfg := c.cfg

	var targets []model.GeoPoint
	var err error
	switch {
	case *points != "":
		targets, err = parsePoints(*points)
	case *targetsPath != "":
		targets, err = orchestrator.DiscoverTargets(*targetsPath, 0, 0)
	default:
		return fmt.Errorf("%w: diagnose needs -points or -targets", errUsage)
	}
	if err != nil {
		return err
	}
	strategy, err := rsr.ParseStrategy(config.SplitList(*methods))
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	store, err := loadMeasurements(ctx, cfg.PsepDir(), log)
	if err != nil {
		return err
	}
	diags, err := aggregate.Diagnose(ctx, targets, store, rsr.NewHK(strategy), aggregate.DiagnoseOptions{
		Neighbors:  cfg.Neighbors,
		PDFSamples: cfg.PDFSamples,
		Log:        log,
	})
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.WorkDir, aggregate.DiagnosticsName)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := aggregate.WriteDiagnostics(f, diags); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	for _, d := range diags {
		if _, err := aggregate.WriteDistribution(cfg.WorkDir, d); err != nil {
			return err
		}
	}
	log.Info(ctx, "diagnostics written", logging.Int("targets", len(diags)), logging.String("path", path))
	return nil
}

// parsePoints parses "lat,lon;lat,lon".
func parsePoints(s string) ([]model.GeoPoint, error) {
	var out []model.GeoPoint
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		lat, lon, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("%w: point %q is not lat,lon", errUsage, pair)
		}
		la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: point %q: %w", errUsage, pair, err)
		}
		lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: point %q: %w", errUsage, pair, err)
		}
		out = append(out, model.GeoPoint{Lat: la, Lon: lo})
	}
	return out, nil
}
