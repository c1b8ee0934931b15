package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/ThomasTBO/rsr-sea-ice/internal/config"
	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/internal/observability"
)

const usage = `usage: seaice <command> [flags]

commands:
  select     list the month's archive tracks reaching the latitude floor
  extract    download tracks and extract per-echo peak power (resumable)
  apply      fit the Homodyned-K model around every target point
  aggregate  merge fit partitions into one table and a GeoJSON map
  diagnose   fit selected targets and write their distributions

Run "seaice <command> -h" for the flags of a command.
`

// errUsage marks command line errors; they exit with status 2.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	log := logging.NewFromEnv()
	ctx, log = logging.WithRun(ctx, log)

	base, err := config.FromEnv(config.Config{})
	if err != nil {
		log.Error(ctx, "invalid environment", logging.Err(err))
		return 2
	}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "select":
		err = runSelect(ctx, base, rest, log)
	case "extract":
		err = runExtract(ctx, base, rest, log)
	case "apply":
		err = runApply(ctx, base, rest, log)
	case "aggregate":
		err = runAggregate(ctx, base, rest, log)
	case "diagnose":
		err = runDiagnose(ctx, base, rest, log)
	case "help", "-h", "--help":
		fmt.Fprint(stderr, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage), errors.Is(err, config.ErrInvalid):
		fmt.Fprintln(stderr, err)
		return 2
	default:
		log.Error(ctx, cmd+" failed", logging.Any("error", xerrors.New(err)))
		return 1
	}
}

// common holds the flags every subcommand shares.
type common struct {
	cfg         config.Config
	workDir     string
	metricsAddr string
}

// newFlagSet registers the shared flags with defaults from the environment.
func newFlagSet(name string, base config.Config) (*flag.FlagSet, *common) {
	c := &common{workDir: base.WorkDir}
	c.cfg = base.ApplyDefaults()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.cfg.Year, "year", c.cfg.Year, "acquisition year (YYYY)")
	fs.StringVar(&c.cfg.Month, "month", c.cfg.Month, "acquisition month (MM)")
	fs.StringVar(&c.workDir, "workdir", c.workDir, "working directory (default ./Cryosat_RSR_SAR_FBR_<year>_<month>)")
	fs.Func("lat-min", fmt.Sprintf("latitude floor in degrees (default %g)", c.cfg.LatMin), func(v string) error {
		deg, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.cfg.SetLatMin(deg)
		return nil
	})
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address while running")
	return fs, c
}

// parse parses args and finalises the configuration.
func (c *common) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	c.cfg.WorkDir = c.workDir
	c.cfg = c.cfg.ApplyDefaults()
	return c.cfg.Validate()
}

// metrics returns a collector and starts its HTTP endpoint when an address
// was given. The returned stop function is never nil.
func (c *common) metrics(ctx context.Context, log logging.Logger) (*observability.PipelineCollector, func(), error) {
	if c.metricsAddr == "" {
		return nil, func() {}, nil
	}
	collector, err := observability.NewPipelineCollector(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise metrics: %w", err)
	}
	srv := serveMetrics(ctx, c.metricsAddr, collector, log)
	return collector, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func serveMetrics(ctx context.Context, addr string, collector *observability.PipelineCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
