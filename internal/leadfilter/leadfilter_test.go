package leadfilter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

const sample = ` Latitude, Longitude, Lead_Class, Sea_Ice_Class
80.0, 10.0, 0, 1
80.0, 20.0, 1, 1
80.0, 30.0, 0, 0
71.5, 10.0, 0, 1
bad, row, 0, 1
`

func TestParseReference(t *testing.T) {
	points, skipped, err := ParseReference(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("ParseReference() error = %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("ParseReference() returned %d points, want 3", len(points))
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if !points[0].IsIceFloe() || points[1].IsIceFloe() || points[2].IsIceFloe() {
		t.Fatalf("unexpected classes: %+v", points)
	}
}

func TestParseReferenceMissingColumn(t *testing.T) {
	_, _, err := ParseReference(strings.NewReader("Latitude,Longitude,Lead_Class\n80,0,0\n"))
	if err == nil {
		t.Fatalf("expected error for missing Sea_Ice_Class column")
	}
}

func TestLoadReferenceMissingIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uit_cryosat2_L2_alongtrack_2018_01.csv")
	_, err := LoadReference(context.Background(), path, nil)
	if !errors.Is(err, ErrReferenceMissing) {
		t.Fatalf("LoadReference() error = %v, want ErrReferenceMissing", err)
	}
	if !strings.Contains(err.Error(), DownloadURL) {
		t.Fatalf("error %q should point to %s", err, DownloadURL)
	}
}

func TestLoadReferenceRenamesTxt(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "ref.csv")
	txtPath := filepath.Join(dir, "ref.txt")
	if err := os.WriteFile(txtPath, []byte(sample), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	points, err := LoadReference(context.Background(), csvPath, nil)
	if err != nil {
		t.Fatalf("LoadReference() error = %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("LoadReference() returned %d points, want 3", len(points))
	}
	if _, err := os.Stat(csvPath); err != nil {
		t.Fatalf("expected %s after rename: %v", csvPath, err)
	}
	if _, err := os.Stat(txtPath); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be gone, stat error = %v", txtPath, err)
	}
}

func TestFilterBursts(t *testing.T) {
	points, _, err := ParseReference(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("ParseReference() error = %v", err)
	}
	c := NewClassifier(context.Background(), points, nil)

	positions := []model.GeoPoint{
		{Lat: 80.01, Lon: 10.1}, // ice floe
		{Lat: 80.01, Lon: 19.9}, // lead
		{Lat: 71.0, Lon: 10.0},  // south of lat min
		{Lat: 72.0, Lon: 10.0},  // exactly lat min, excluded
		{Lat: 79.99, Lon: 29.8}, // open water
		{Lat: 80.2, Lon: 9.5},   // ice floe
	}
	got := FilterBursts(context.Background(), positions, c, 72)
	want := []int{0, 5}
	if len(got) != len(want) {
		t.Fatalf("FilterBursts() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FilterBursts() = %v, want %v", got, want)
		}
	}
}

func TestEmptyClassifierAdmitsNothing(t *testing.T) {
	c := NewClassifier(context.Background(), nil, nil)
	if c.Admissible(model.GeoPoint{Lat: 85}) {
		t.Fatalf("empty classifier should admit nothing")
	}
}
