package main

import (
	"context"
	"fmt"

	"github.com/ThomasTBO/rsr-sea-ice/internal/archive"
	"github.com/ThomasTBO/rsr-sea-ice/internal/config"
	"github.com/ThomasTBO/rsr-sea-ice/internal/echo"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/psep"
	"github.com/ThomasTBO/rsr-sea-ice/internal/resume"
)

func dialer(cfg config.Config) psep.Dialer {
	return func(ctx context.Context) (archive.Client, error) {
		return archive.DialFTP(ctx, archive.FTPConfig{
			Addr:     cfg.ArchiveAddr,
			User:     cfg.ArchiveUser,
			Password: cfg.ArchivePassword,
			Dir:      cfg.ArchiveDir(),
			Timeout:  cfg.ArchiveTimeout,
		})
	}
}

func runSelect(ctx context.Context, base config.Config, args []string, log logging.Logger) error {
	fs, c := newFlagSet("select", base)
	if err := c.parse(fs, args); err != nil {
		return err
	}
	cfg := c.cfg

	client, err := dialer(cfg)(ctx)
	if err != nil {
		return fmt.Errorf("connect to archive: %w", err)
	}
	defer client.Close()

	names, err := archive.SelectTracks(ctx, client, cfg.LatMin, log)
	if err != nil {
		return err
	}
	if err := archive.WriteManifest(cfg.ManifestPath(), names); err != nil {
		return err
	}
	log.Info(ctx, "manifest written",
		logging.Int("tracks", len(names)),
		logging.String("path", cfg.ManifestPath()),
	)
	return nil
}

func runExtract(ctx context.Context, base config.Config, args []string, log logging.Logger) error {
	fs, c := newFlagSet("extract", base)
	fs.IntVar(&c.cfg.FilesPerBatch, "files-per-batch", c.cfg.FilesPerBatch, "products per download batch")
	fs.IntVar(&c.cfg.ExtractWorkers, "workers", c.cfg.ExtractWorkers, "concurrent burst extraction workers")
	fs.StringVar(&c.cfg.LedgerPath, "ledger", c.cfg.LedgerPath, "sqlite completion ledger (default: output size threshold)")
	fs.Int64Var(&c.cfg.ResumeMinBytes, "resume-min-bytes", c.cfg.ResumeMinBytes, "size above which an existing batch output counts as complete")
	redo := fs.String("redo", "", "comma separated batch names (<first>_<last>) to recompute")
	reference := fs.String("reference", "", "lead / sea-ice classification CSV (default <workdir>/uit_cryosat2_L2_alongtrack_<year>_<month>.csv)")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	cfg := c.cfg
	if *reference == "" {
		*reference = cfg.ReferencePath()
	}

	metrics, stopMetrics, err := c.metrics(ctx, log)
	if err != nil {
		return err
	}
	defer stopMetrics()

	var checker resume.Checker = resume.SizeThreshold{MinBytes: cfg.ResumeMinBytes}
	if cfg.LedgerPath != "" {
		ledger, err := resume.OpenLedger(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer ledger.Close()
		checker = ledger
	}

	stage := &psep.Stage{
		WorkDir:       cfg.WorkDir,
		Year:          cfg.Year,
		Month:         cfg.Month,
		LatMin:        cfg.LatMin,
		FilesPerBatch: cfg.FilesPerBatch,
		Workers:       cfg.ExtractWorkers,
		Echo: echo.Options{
			LeadingEdgeFractions: cfg.LeadingEdgeFractions,
			WindowFracPsep:       cfg.WindowFracPsep,
		},
		ReferencePath: *reference,
		ManifestPath:  cfg.ManifestPath(),
		Redo:          config.SplitList(*redo),
		Dial:          dialer(cfg),
		Checker:       checker,
		Metrics:       metrics,
		Log:           log,
	}
	log.Info(ctx, "extraction started",
		logging.String("year", cfg.Year),
		logging.String("month", cfg.Month),
		logging.String("workdir", cfg.WorkDir),
	)
	return stage.Run(ctx)
}
