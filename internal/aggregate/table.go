// Package aggregate merges the fit partitions of a run into one table,
// filters unreliable fits and produces the mapping and QA outputs.
package aggregate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/ThomasTBO/rsr-sea-ice/internal/sink"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// ErrNoPartitions is returned by Load when dir holds no partition file.
var ErrNoPartitions = errors.New("no fit partitions found")

// Header is the unified table column layout.
var Header = []string{"lat", "lon", "pt", "pn", "pc", "crl", "flag"}

// Table is the concatenation of every partition of a run.
type Table struct {
	Files []string
	Rows  []model.OutputRecord
}

// Load reads every partition file in dir, in lexical file order.
func Load(dir string) (*Table, error) {
	files, err := filepath.Glob(filepath.Join(dir, sink.PartitionPattern))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPartitions, dir)
	}
	t := &Table{Files: files}
	for _, path := range files {
		rows, err := readPartition(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		t.Rows = append(t.Rows, rows...)
	}
	return t, nil
}

func readPartition(path string) ([]model.OutputRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(sink.Header)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("header: %w", err)
	}
	var out []model.OutputRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := sink.ParseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

// Filter masks fits that failed or whose coherence is below MinCoherence.
// Masked rows keep their coordinates and flag; powers and coherence become NaN.
type Filter struct {
	MinCoherence float64
}

// Keep reports whether the fit passes the filter.
func (f Filter) Keep(fit model.FitResult) bool {
	return fit.Converged && fit.Coherence >= f.MinCoherence
}

// Apply returns a filtered copy of t.
func (f Filter) Apply(t *Table) *Table {
	out := &Table{Files: t.Files, Rows: make([]model.OutputRecord, len(t.Rows))}
	nan := math.NaN()
	for i, r := range t.Rows {
		if !f.Keep(r.Fit) {
			r.Fit.Power = model.PowerComponents{Total: nan, Noise: nan, Coherent: nan, Ratio: nan}
			r.Fit.Coherence = nan
		}
		out.Rows[i] = r
	}
	return out
}

// Kept counts the rows whose powers survived filtering.
func (t *Table) Kept() int {
	n := 0
	for _, r := range t.Rows {
		if !math.IsNaN(r.Fit.Power.Total) {
			n++
		}
	}
	return n
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes the unified lat,lon,pt,pn,pc,crl,flag table.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := cw.Write([]string{
			formatFloat(r.Target.Lat),
			formatFloat(r.Target.Lon),
			formatFloat(r.Fit.Power.Total),
			formatFloat(r.Fit.Power.Noise),
			formatFloat(r.Fit.Power.Coherent),
			formatFloat(r.Fit.Coherence),
			strconv.Itoa(r.Fit.Flag()),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Bound is the lon/lat bounding box of the table's targets.
func (t *Table) Bound() orb.Bound {
	mp := make(orb.MultiPoint, len(t.Rows))
	for i, r := range t.Rows {
		mp[i] = orb.Point{r.Target.Lon, r.Target.Lat}
	}
	return mp.Bound()
}

// GeoJSON returns one point feature per row carrying the power decomposition
// and coherence. NaN properties are encoded as null.
func (t *Table) GeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if len(t.Rows) > 0 {
		fc.BBox = geojson.NewBBox(t.Bound())
	}
	for _, r := range t.Rows {
		f := geojson.NewFeature(orb.Point{r.Target.Lon, r.Target.Lat})
		f.Properties["pt"] = nullable(r.Fit.Power.Total)
		f.Properties["pn"] = nullable(r.Fit.Power.Noise)
		f.Properties["pc"] = nullable(r.Fit.Power.Coherent)
		f.Properties["crl"] = nullable(r.Fit.Coherence)
		f.Properties["flag"] = r.Fit.Flag()
		fc.Append(f)
	}
	return fc
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
