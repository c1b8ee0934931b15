package psep

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ThomasTBO/rsr-sea-ice/internal/archive"
	"github.com/ThomasTBO/rsr-sea-ice/internal/echo"
	"github.com/ThomasTBO/rsr-sea-ice/internal/leadfilter"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/observability"
	"github.com/ThomasTBO/rsr-sea-ice/internal/product"
	"github.com/ThomasTBO/rsr-sea-ice/internal/resume"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// Dialer opens an archive client for the configured month.
type Dialer func(ctx context.Context) (archive.Client, error)

// Opener opens a downloaded product.
type Opener func(path string) (product.Source, error)

// OpenNetCDF is the default Opener.
func OpenNetCDF(path string) (product.Source, error) {
	return product.OpenNetCDF(path)
}

// Stage is the resumable extraction stage of one month.
type Stage struct {
	WorkDir       string
	Year, Month   string
	LatMin        float64 // taken as given; zero is a valid floor
	FilesPerBatch int
	Workers       int
	Echo          echo.Options

	// ReferencePath is the classification CSV; see leadfilter.LoadReference.
	ReferencePath string
	// ManifestPath defaults to <WorkDir>/nc_files_to_read.txt.
	ManifestPath string

	// Redo lists batch names ("<first>_<last>") recomputed even when their
	// output is complete.
	Redo []string

	Dial    Dialer
	Open    Opener
	Checker resume.Checker
	Metrics *observability.PipelineCollector
	Log     logging.Logger

	client archive.Client
}

// Batch is one slice [First, Last) of the manifest.
type Batch struct {
	First, Last int
	Files       []string
}

// Name is the batch's "<first>_<last>" label, also its download directory.
func (b Batch) Name() string {
	return strconv.Itoa(b.First) + "_" + strconv.Itoa(b.Last)
}

// Batches splits names into consecutive batches of at most size files.
func Batches(names []string, size int) []Batch {
	if size <= 0 {
		size = 50
	}
	var out []Batch
	for i := 0; i < len(names); i += size {
		j := min(i+size, len(names))
		out = append(out, Batch{First: i, Last: j, Files: names[i:j]})
	}
	return out
}

// OutputPath is the CSV written for b.
func (s *Stage) OutputPath(b Batch) string {
	return filepath.Join(s.WorkDir, "psep", fmt.Sprintf("psep_%s_%s_%d_%d.csv", s.Year, s.Month, b.First, b.Last))
}

func (s *Stage) defaults() {
	if s.Log == nil {
		s.Log = logging.Noop()
	}
	if s.ManifestPath == "" {
		s.ManifestPath = filepath.Join(s.WorkDir, archive.ManifestName)
	}
	if s.Open == nil {
		s.Open = OpenNetCDF
	}
	if s.Checker == nil {
		s.Checker = resume.SizeThreshold{MinBytes: resume.DefaultMinBytes}
	}
}

// Run executes the stage. Complete batches are skipped without fetching;
// a missing classification reference is fatal.
func (s *Stage) Run(ctx context.Context) (err error) {
	s.defaults()
	defer func() {
		if s.client != nil {
			if cerr := s.client.Close(); cerr != nil {
				s.Log.Warn(ctx, "archive close failed", logging.Err(cerr))
			}
			s.client = nil
		}
	}()

	points, err := leadfilter.LoadReference(ctx, s.ReferencePath, s.Log)
	if err != nil {
		return err
	}
	classifier := leadfilter.NewClassifier(ctx, points, s.Log)

	names, err := s.manifest(ctx)
	if err != nil {
		return err
	}

	batches := Batches(names, s.FilesPerBatch)
	s.Log.Info(ctx, "extraction plan",
		logging.Int("files", len(names)),
		logging.Int("batches", len(batches)),
	)
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runBatch(ctx, b, classifier); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) archiveClient(ctx context.Context) (archive.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	if s.Dial == nil {
		return nil, errors.New("no archive dialer configured")
	}
	c, err := s.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to archive: %w", err)
	}
	s.client = c
	return c, nil
}

func (s *Stage) manifest(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(s.ManifestPath); err == nil {
		return archive.ReadManifest(s.ManifestPath)
	}
	client, err := s.archiveClient(ctx)
	if err != nil {
		return nil, err
	}
	names, err := archive.SelectTracks(ctx, client, s.LatMin, s.Log)
	if err != nil {
		return nil, fmt.Errorf("select tracks: %w", err)
	}
	if err := archive.WriteManifest(s.ManifestPath, names); err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Stage) runBatch(ctx context.Context, b Batch, classifier *leadfilter.Classifier) (err error) {
	out := s.OutputPath(b)
	log := s.Log.With(logging.String("batch", b.Name()))

	done, err := s.complete(ctx, b, out)
	if err != nil {
		return err
	}
	if done {
		log.Info(ctx, "batch already extracted; skipping", logging.String("output", out))
		s.Metrics.ObserveBatch(true)
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "psep.batch", "batch", b.Name(),
		attribute.Int("files", len(b.Files)))
	defer func() { observability.EndSpan(span, err) }()

	client, err := s.archiveClient(ctx)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.WorkDir, b.Name())
	fetched, err := archive.Download(ctx, client, dir, b.Files, log)
	if err != nil {
		return fmt.Errorf("batch %s: %w", b.Name(), err)
	}
	s.Metrics.AddMissingFiles(len(b.Files) - len(fetched))

	var rows []model.Measurement
	for i, name := range fetched {
		log.Info(ctx, "processing file",
			logging.Int("file", i+1),
			logging.Int("files", len(fetched)),
			logging.String("name", name),
		)
		ms, err := s.processFile(ctx, filepath.Join(dir, name), classifier, log)
		if err != nil {
			return fmt.Errorf("batch %s: %w", b.Name(), err)
		}
		rows = append(rows, ms...)
	}

	if err := WriteBatch(out, rows); err != nil {
		return err
	}
	if err := archive.Cleanup(dir, fetched); err != nil {
		log.Warn(ctx, "cleanup of downloaded products failed", logging.Err(err))
	}
	if err := s.Checker.MarkComplete(ctx, out); err != nil {
		return err
	}
	s.Metrics.ObserveBatch(false)
	log.Info(ctx, "batch extracted", logging.Int("bursts", len(rows)), logging.String("output", out))
	return nil
}

func (s *Stage) complete(ctx context.Context, b Batch, out string) (bool, error) {
	if !slices.Contains(s.Redo, b.Name()) {
		return s.Checker.Complete(ctx, out)
	}
	if f, ok := s.Checker.(resume.Forgetter); ok {
		if err := f.Forget(ctx, out); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (s *Stage) processFile(ctx context.Context, path string, classifier *leadfilter.Classifier, log logging.Logger) (_ []model.Measurement, err error) {
	ctx, span := observability.StartSpan(ctx, "psep.file", "file", filepath.Base(path))
	defer func() { observability.EndSpan(span, err) }()

	src, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return ProcessFile(ctx, src, classifier, FileOptions{
		Echo:    s.Echo,
		LatMin:  s.LatMin,
		Workers: s.Workers,
		Metrics: s.Metrics,
		Log:     log.With(logging.String("file", filepath.Base(path))),
	})
}
