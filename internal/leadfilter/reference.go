// Package leadfilter keeps only bursts that fall on sea-ice floes according
// to the monthly along-track lead / sea-ice classification.
package leadfilter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// ReferenceLatMin is the latitude floor applied to reference points.
const ReferenceLatMin = 72.0

// DownloadURL is where the classification product can be obtained.
const DownloadURL = "https://uitno.app.box.com/s/37uuevawit4a6r8arkvmvty7o76tiqx1/folder/228797883958"

// ErrReferenceMissing reports that neither the .csv nor the .txt
// classification file exists.
var ErrReferenceMissing = errors.New("classification reference file not found")

var requiredColumns = []string{"latitude", "longitude", "lead_class", "sea_ice_class"}

// LoadReference reads the classification CSV at path. When path is absent
// but a .txt file with the same stem exists, it is renamed to path first.
func LoadReference(ctx context.Context, path string, log logging.Logger) ([]model.ClassifiedPoint, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := ensureCSV(ctx, path, log); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reference %s: %w", path, err)
	}
	defer f.Close()

	points, skipped, err := ParseReference(f)
	if err != nil {
		return nil, fmt.Errorf("parse reference %s: %w", path, err)
	}
	log.Info(ctx, "loaded classification reference",
		logging.String("path", path),
		logging.Int("points", len(points)),
		logging.Int("skipped_rows", skipped),
	)
	return points, nil
}

func ensureCSV(ctx context.Context, path string, log logging.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	txt := strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
	if _, err := os.Stat(txt); err != nil {
		return fmt.Errorf("%w: %s (download it from %s)", ErrReferenceMissing, txt, DownloadURL)
	}
	if err := os.Rename(txt, path); err != nil {
		return fmt.Errorf("rename %s: %w", txt, err)
	}
	log.Info(ctx, "renamed classification reference", logging.String("from", txt), logging.String("to", path))
	return nil
}

// ParseReference decodes classification rows from r. Header names are
// matched after trimming and case folding. Rows below ReferenceLatMin are
// dropped; malformed rows are counted in skipped.
func ParseReference(r io.Reader) (points []model.ClassifiedPoint, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	headerMap := make(map[string]int, len(headers))
	for i, h := range headers {
		headerMap[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := headerMap[col]; !ok {
			return nil, 0, fmt.Errorf("missing required column %q", col)
		}
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		p, ok := parseRow(record, headerMap)
		if !ok {
			skipped++
			continue
		}
		if p.Position.Lat >= ReferenceLatMin {
			points = append(points, p)
		}
	}
	return points, skipped, nil
}

func parseRow(record []string, headerMap map[string]int) (model.ClassifiedPoint, bool) {
	vals := make([]float64, len(requiredColumns))
	for i, col := range requiredColumns {
		idx := headerMap[col]
		if idx >= len(record) {
			return model.ClassifiedPoint{}, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
		if err != nil {
			return model.ClassifiedPoint{}, false
		}
		vals[i] = v
	}
	return model.ClassifiedPoint{
		Position: model.GeoPoint{Lat: vals[0], Lon: vals[1]},
		Lead:     int(vals[2]),
		SeaIce:   int(vals[3]),
	}, true
}
