package aggregate

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/ThomasTBO/rsr-sea-ice/internal/sink"
	"github.com/ThomasTBO/rsr-sea-ice/kb"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

func record(lat, crl float64, ok bool) model.OutputRecord {
	return model.OutputRecord{
		Target: model.GeoPoint{Lat: lat, Lon: 10},
		Fit: model.FitResult{
			Params:    model.FitParams{A: 2, S: 0.5, Mu: 4},
			Power:     model.PowerComponents{Total: 7, Noise: -3, Coherent: 6, Ratio: 9},
			Coherence: crl,
			Converged: ok,
		},
	}
}

func writePartition(t *testing.T, dir string, id int, recs ...model.OutputRecord) {
	t.Helper()
	p, err := sink.CreatePartition(dir, id)
	if err != nil {
		t.Fatalf("CreatePartition() error = %v", err)
	}
	if err := p.Append(context.Background(), recs); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestLoadConcatenatesPartitions(t *testing.T) {
	dir := t.TempDir()
	writePartition(t, dir, 0, record(80, 0.9, true), record(81, 0.2, true))
	writePartition(t, dir, 1, record(82, 0.95, false))
	writePartition(t, dir, 2)

	table, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(table.Files) != 3 || len(table.Rows) != 3 {
		t.Fatalf("Load() files = %d rows = %d, want 3, 3", len(table.Files), len(table.Rows))
	}
	if table.Rows[0].Target.Lat != 80 || table.Rows[2].Target.Lat != 82 {
		t.Fatalf("row order = %v, %v", table.Rows[0].Target, table.Rows[2].Target)
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	if _, err := Load(t.TempDir()); !errors.Is(err, ErrNoPartitions) {
		t.Fatalf("Load() error = %v, want ErrNoPartitions", err)
	}
}

func TestFilterMasksFailedAndIncoherentFits(t *testing.T) {
	table := &Table{Rows: []model.OutputRecord{
		record(80, 0.9, true),
		record(81, 0.2, true),
		record(82, 0.95, false),
	}}
	out := Filter{MinCoherence: 0.5}.Apply(table)

	if out.Rows[0].Fit.Power.Total != 7 {
		t.Fatalf("kept row pt = %v, want 7", out.Rows[0].Fit.Power.Total)
	}
	for _, i := range []int{1, 2} {
		r := out.Rows[i]
		if !math.IsNaN(r.Fit.Power.Total) || !math.IsNaN(r.Fit.Coherence) {
			t.Fatalf("row %d = %+v, want NaN powers", i, r.Fit)
		}
		if r.Target != table.Rows[i].Target {
			t.Fatalf("row %d target = %v, want coordinates kept", i, r.Target)
		}
	}
	if out.Kept() != 1 {
		t.Fatalf("Kept() = %d, want 1", out.Kept())
	}
	if table.Rows[1].Fit.Power.Total != 7 {
		t.Fatalf("Apply() modified its input")
	}
}

func TestFilterDefaultKeepsEveryConvergedFit(t *testing.T) {
	if !(Filter{}).Keep(record(80, 0, true).Fit) {
		t.Fatalf("zero MinCoherence should keep a converged fit")
	}
	if (Filter{}).Keep(record(80, 1, false).Fit) {
		t.Fatalf("failed fit should never be kept")
	}
}

func TestWriteCSV(t *testing.T) {
	table := Filter{MinCoherence: 0.5}.Apply(&Table{Rows: []model.OutputRecord{record(80, 0.9, true), record(81, 0.1, true)}})
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if strings.Join(rows[0], ",") != "lat,lon,pt,pn,pc,crl,flag" {
		t.Fatalf("header = %v", rows[0])
	}
	if strings.Join(rows[1], ",") != "80,10,7,-3,6,0.9,1" {
		t.Fatalf("row 1 = %v", rows[1])
	}
	if rows[2][2] != "NaN" || rows[2][6] != "1" {
		t.Fatalf("masked row = %v", rows[2])
	}
}

func TestGeoJSON(t *testing.T) {
	table := Filter{MinCoherence: 0.5}.Apply(&Table{Rows: []model.OutputRecord{record(80, 0.9, true), record(81, 0.1, true)}})
	data, err := json.Marshal(table.GeoJSON())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var doc struct {
		Type     string
		BBox     []float64
		Features []struct {
			Geometry struct {
				Coordinates []float64
			}
			Properties map[string]any
		}
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if doc.Type != "FeatureCollection" || len(doc.Features) != 2 {
		t.Fatalf("GeoJSON() = %s", data)
	}
	if c := doc.Features[0].Geometry.Coordinates; c[0] != 10 || c[1] != 80 {
		t.Fatalf("coordinates = %v, want [lon lat]", c)
	}
	if doc.Features[0].Properties["pt"] != 7.0 || doc.Features[1].Properties["pt"] != nil {
		t.Fatalf("properties = %v / %v", doc.Features[0].Properties, doc.Features[1].Properties)
	}
	if len(doc.BBox) != 4 || doc.BBox[1] != 80 || doc.BBox[3] != 81 {
		t.Fatalf("bbox = %v", doc.BBox)
	}
}

// lengthFitter reports the sample length and a flat density.
type lengthFitter struct{}

func (lengthFitter) Fit(_ context.Context, s []float64) (model.FitResult, error) {
	return model.FitResult{Params: model.FitParams{A: float64(len(s)), S: 1, Mu: 1}, Coherence: 0.8, Converged: true}, nil
}

func (lengthFitter) PDF(_ model.FitParams, x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = 0.5
	}
	return out
}

func TestDiagnoseAndOutputs(t *testing.T) {
	store := kb.NewMeasurementStore()
	for i, lat := range []float64{80, 80.01, 85} {
		var v model.PowerVector
		for j := range v {
			v[j] = -float64(i*64 + j + 1)
		}
		if err := store.Add(model.Measurement{Position: model.GeoPoint{Lat: lat}, Power: v}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	target := model.GeoPoint{Lat: 80, Lon: 0}
	diags, err := Diagnose(context.Background(), []model.GeoPoint{target}, store, lengthFitter{}, DiagnoseOptions{Neighbors: 2, PDFSamples: 5})
	if err != nil {
		t.Fatalf("Diagnose() error = %v", err)
	}
	d := diags[0]
	if d.Fit.Params.A != 128 {
		t.Fatalf("sample length = %v, want 128", d.Fit.Params.A)
	}
	// Nearest two bursts hold |values| 1..128.
	if len(d.X) != 5 || d.X[0] != 1 || d.X[4] != 128 {
		t.Fatalf("X = %v, want 5 points from 1 to 128", d.X)
	}

	var buf bytes.Buffer
	if err := WriteDiagnostics(&buf, diags); err != nil {
		t.Fatalf("WriteDiagnostics() error = %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if strings.Join(rows[0], ",") != "lat,lon,pdf.values,pdf.crl,pdf.powers" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][3] != "0.8" || !strings.HasPrefix(rows[1][2], `{"a":128`) || !strings.Contains(rows[1][4], `"pt"`) {
		t.Fatalf("diagnostics row = %v", rows[1])
	}

	dir := t.TempDir()
	path, err := WriteDistribution(dir, d)
	if err != nil {
		t.Fatalf("WriteDistribution() error = %v", err)
	}
	if path != DistributionPath(dir, target) || !strings.HasSuffix(path, "distribution_80_0.csv") {
		t.Fatalf("path = %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	dist, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(dist) != 6 || dist[1][1] != "0.5" {
		t.Fatalf("distribution = %v", dist)
	}
	for _, row := range dist[1:] {
		if row[2] == "0" {
			t.Fatalf("histogram density at %s = 0, want inside the histogram", row[0])
		}
	}
}
