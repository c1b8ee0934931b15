package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ThomasTBO/rsr-sea-ice/internal/aggregate"
	"github.com/ThomasTBO/rsr-sea-ice/internal/config"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
)

func runAggregate(ctx context.Context, base config.Config, args []string, log logging.Logger) error {
	fs, c := newFlagSet("aggregate", base)
	fs.Float64Var(&c.cfg.MinCoherence, "min-coherence", c.cfg.MinCoherence, "mask fits whose coherence is below this value")
	out := fs.String("out", "", "unified table (default <workdir>/rsr_aggregated_<year>_<month>.csv)")
	geo := fs.String("geojson", "", "GeoJSON map (default <workdir>/rsr_aggregated_<year>_<month>.geojson)")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	cfg := c.cfg
	stem := filepath.Join(cfg.WorkDir, fmt.Sprintf("rsr_aggregated_%s_%s", cfg.Year, cfg.Month))
	if *out == "" {
		*out = stem + ".csv"
	}
	if *geo == "" {
		*geo = stem + ".geojson"
	}

	table, err := aggregate.Load(cfg.WorkDir)
	if err != nil {
		return err
	}
	table = aggregate.Filter{MinCoherence: cfg.MinCoherence}.Apply(table)

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	data, err := json.Marshal(table.GeoJSON())
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	if err := os.WriteFile(*geo, data, 0o644); err != nil {
		return err
	}
	log.Info(ctx, "aggregated fit results",
		logging.Int("partitions", len(table.Files)),
		logging.Int("rows", len(table.Rows)),
		logging.Int("kept", table.Kept()),
		logging.String("table", *out),
		logging.String("geojson", *geo),
	)
	return nil
}
