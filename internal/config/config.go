// Package config holds the run configuration shared by every pipeline stage.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Archive defaults for the CryoSat science data server.
const (
	DefaultArchiveAddr     = "science-pds.cryosat.esa.int:21"
	DefaultArchiveUser     = "anonymous"
	DefaultArchivePassword = "anonymous@anonymous.com"
)

// DefaultLatMin is the Arctic latitude floor in degrees.
const DefaultLatMin = 72

// Config holds every tunable of a run. The zero value is completed by
// ApplyDefaults.
type Config struct {
	// WorkDir is the per-month working directory. Default:
	// ./Cryosat_RSR_SAR_FBR_<year>_<month>
	WorkDir string
	Year    string
	Month   string

	// LatMin is the latitude floor of bursts, tracks and grid targets.
	// Default: 72. Use SetLatMin to pin a zero floor.
	LatMin    float64
	latMinSet bool

	// Extraction stage.
	FilesPerBatch        int       // default 50
	ExtractWorkers       int       // default 8
	LeadingEdgeFractions []float64 // default 0.03, 0.06, 0.09
	WindowFracPsep       float64   // default 0.05
	ResumeMinBytes       int64     // default 10000
	LedgerPath           string    // sqlite completion ledger; empty uses the size threshold

	ArchiveAddr     string
	ArchiveUser     string
	ArchivePassword string
	ArchiveTimeout  time.Duration // default 30s

	// Fit stage.
	FitWorkers            int      // default 8
	SubBatchSize          int      // default 1000
	Neighbors             int      // default 1000
	CoverageKm            float64  // default 10
	GridStepKm            float64  // default 10
	RebuildIndexPerWorker bool     // default false: one shared read-only index
	FitMethods            []string // default neldermead, lbfgs

	// Aggregation.
	MinCoherence float64 // default 0
	PDFSamples   int     // default 1000

	// MongoURI enables the optional result mirror when set.
	MongoURI        string
	MongoDatabase   string // default rsr
	MongoCollection string // default fits

	ProgressInterval time.Duration // default 30s
}

// Default returns a Config for January 2018 with every default applied.
func Default() Config {
	return Config{Year: "2018", Month: "01"}.ApplyDefaults()
}

// SetLatMin sets the latitude floor and marks it explicit, so
// ApplyDefaults keeps it even when it is zero.
func (c *Config) SetLatMin(deg float64) {
	c.LatMin = deg
	c.latMinSet = true
}

// ApplyDefaults fills zero fields with their defaults.
func (c Config) ApplyDefaults() Config {
	if c.Year == "" {
		c.Year = "2018"
	}
	if c.Month == "" {
		c.Month = "01"
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(".", fmt.Sprintf("Cryosat_RSR_SAR_FBR_%s_%s", c.Year, c.Month))
	}
	if c.LatMin == 0 && !c.latMinSet {
		c.LatMin = DefaultLatMin
	}
	if c.FilesPerBatch <= 0 {
		c.FilesPerBatch = 50
	}
	if c.ExtractWorkers <= 0 {
		c.ExtractWorkers = 8
	}
	if len(c.LeadingEdgeFractions) == 0 {
		c.LeadingEdgeFractions = []float64{0.03, 0.06, 0.09}
	}
	if c.WindowFracPsep <= 0 {
		c.WindowFracPsep = 0.05
	}
	if c.ResumeMinBytes <= 0 {
		c.ResumeMinBytes = 10000
	}
	if c.ArchiveAddr == "" {
		c.ArchiveAddr = DefaultArchiveAddr
	}
	if c.ArchiveUser == "" {
		c.ArchiveUser = DefaultArchiveUser
		if c.ArchivePassword == "" {
			c.ArchivePassword = DefaultArchivePassword
		}
	}
	if c.ArchiveTimeout <= 0 {
		c.ArchiveTimeout = 30 * time.Second
	}
	if c.FitWorkers <= 0 {
		c.FitWorkers = 8
	}
	if c.SubBatchSize <= 0 {
		c.SubBatchSize = 1000
	}
	if c.Neighbors <= 0 {
		c.Neighbors = 1000
	}
	if c.CoverageKm <= 0 {
		c.CoverageKm = 10
	}
	if c.GridStepKm <= 0 {
		c.GridStepKm = 10
	}
	if len(c.FitMethods) == 0 {
		c.FitMethods = []string{"neldermead", "lbfgs"}
	}
	if c.PDFSamples <= 0 {
		c.PDFSamples = 1000
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "rsr"
	}
	if c.MongoCollection == "" {
		c.MongoCollection = "fits"
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 30 * time.Second
	}
	return c
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks value ranges that defaults cannot repair.
func (c Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Year); err != nil || len(c.Year) != 4 {
		errs = append(errs, fmt.Errorf("year %q must be four digits", c.Year))
	}
	if m, err := strconv.Atoi(c.Month); err != nil || len(c.Month) != 2 || m < 1 || m > 12 {
		errs = append(errs, fmt.Errorf("month %q must be 01..12", c.Month))
	}
	if c.LatMin < -90 || c.LatMin > 90 {
		errs = append(errs, fmt.Errorf("lat-min %g out of range", c.LatMin))
	}
	for _, f := range c.LeadingEdgeFractions {
		if f <= 0 || f >= 1 {
			errs = append(errs, fmt.Errorf("leading edge fraction %g must be in (0, 1)", f))
		}
	}
	if c.WindowFracPsep >= 1 {
		errs = append(errs, fmt.Errorf("psep window fraction %g must be below 1", c.WindowFracPsep))
	}
	if c.MinCoherence < -1 || c.MinCoherence > 1 {
		errs = append(errs, fmt.Errorf("min coherence %g must be in [-1, 1]", c.MinCoherence))
	}
	for _, m := range c.FitMethods {
		switch m {
		case "neldermead", "bfgs", "lbfgs", "cg":
		default:
			errs = append(errs, fmt.Errorf("unknown fit method %q", m))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ReferencePath is the monthly lead / sea-ice classification file.
func (c Config) ReferencePath() string {
	return filepath.Join(c.WorkDir, fmt.Sprintf("uit_cryosat2_L2_alongtrack_%s_%s.csv", c.Year, c.Month))
}

// ManifestPath is the list of selected products.
func (c Config) ManifestPath() string {
	return filepath.Join(c.WorkDir, "nc_files_to_read.txt")
}

// PsepDir holds the measured power CSV files.
func (c Config) PsepDir() string {
	return filepath.Join(c.WorkDir, "psep")
}

// ArchiveDir is the remote product directory for the configured month.
func (c Config) ArchiveDir() string {
	return fmt.Sprintf("/SIR_SAR_FR/%s/%s/", c.Year, c.Month)
}

// FromEnv loads an optional .env file and overlays RSR_* environment
// variables onto base. Malformed numeric values are reported, not ignored.
func FromEnv(base Config) (Config, error) {
	_ = godotenv.Load()

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	c := base
	str("RSR_WORKDIR", &c.WorkDir)
	str("RSR_YEAR", &c.Year)
	str("RSR_MONTH", &c.Month)
	if v := os.Getenv("RSR_LAT_MIN"); v != "" {
		deg, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RSR_LAT_MIN: %w", err))
		} else {
			c.SetLatMin(deg)
		}
	}
	integer("RSR_FILES_PER_BATCH", &c.FilesPerBatch)
	integer("RSR_EXTRACT_WORKERS", &c.ExtractWorkers)
	num("RSR_WINDOW_FRAC_PSEP", &c.WindowFracPsep)
	str("RSR_LEDGER_PATH", &c.LedgerPath)
	str("RSR_ARCHIVE_ADDR", &c.ArchiveAddr)
	str("RSR_ARCHIVE_USER", &c.ArchiveUser)
	str("RSR_ARCHIVE_PASSWORD", &c.ArchivePassword)
	integer("RSR_FIT_WORKERS", &c.FitWorkers)
	integer("RSR_SUB_BATCH_SIZE", &c.SubBatchSize)
	integer("RSR_NEIGHBORS", &c.Neighbors)
	num("RSR_COVERAGE_KM", &c.CoverageKm)
	num("RSR_GRID_STEP_KM", &c.GridStepKm)
	num("RSR_MIN_COHERENCE", &c.MinCoherence)
	str("RSR_MONGO_URI", &c.MongoURI)
	str("RSR_MONGO_DATABASE", &c.MongoDatabase)
	str("RSR_MONGO_COLLECTION", &c.MongoCollection)

	if v := os.Getenv("RSR_FIT_METHODS"); v != "" {
		c.FitMethods = SplitList(v)
	}
	if v := os.Getenv("RSR_RESUME_MIN_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RSR_RESUME_MIN_BYTES: %w", err))
		} else {
			c.ResumeMinBytes = n
		}
	}
	if v := os.Getenv("RSR_REBUILD_INDEX_PER_WORKER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RSR_REBUILD_INDEX_PER_WORKER: %w", err))
		} else {
			c.RebuildIndexPerWorker = b
		}
	}

	if len(errs) > 0 {
		return base, errors.Join(errs...)
	}
	return c, nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
