package psep

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/kb"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

var header = []string{"lat", "lon", "psep"}

// FormatVector renders v as "[v1 v2 ... v64]".
func FormatVector(v model.PowerVector) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range v {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses the bracketed, whitespace separated form written by
// FormatVector. Line breaks inside the brackets are accepted.
func ParseVector(s string) (model.PowerVector, error) {
	var v model.PowerVector
	fields := strings.Fields(strings.Trim(strings.TrimSpace(s), "[]"))
	if len(fields) != model.EchoesPerBurst {
		return v, fmt.Errorf("got %d values, want %d", len(fields), model.EchoesPerBurst)
	}
	for i, f := range fields {
		p, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return v, fmt.Errorf("value %d: %w", i, err)
		}
		v[i] = p
	}
	return v, nil
}

// WriteCSV writes measurements in the lat,lon,psep format. Zero vectors
// are not written.
func WriteCSV(w io.Writer, rows []model.Measurement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, m := range rows {
		if m.Power.IsZero() {
			continue
		}
		rec := []string{
			strconv.FormatFloat(m.Position.Lat, 'g', -1, 64),
			strconv.FormatFloat(m.Position.Lon, 'g', -1, 64),
			FormatVector(m.Power),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBatch writes rows to path through a temporary file renamed into
// place, so an interrupted write never leaves a partial batch file.
func WriteBatch(path string, rows []model.Measurement) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".psep-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := WriteCSV(bw, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// ReadCSV parses a measured power file. Rows with zero or malformed vectors
// are counted in skipped.
func ReadCSV(r io.Reader) (rows []model.Measurement, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, h := range header {
		if _, ok := cols[h]; !ok {
			return nil, 0, fmt.Errorf("missing required column %q", h)
		}
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		m, ok := parseRow(rec, cols)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, m)
	}
	return rows, skipped, nil
}

func parseRow(rec []string, cols map[string]int) (model.Measurement, bool) {
	get := func(col string) string {
		if i := cols[col]; i < len(rec) {
			return rec[i]
		}
		return ""
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(get("lat")), 64)
	if err != nil {
		return model.Measurement{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(get("lon")), 64)
	if err != nil {
		return model.Measurement{}, false
	}
	v, err := ParseVector(get("psep"))
	if err != nil || v.IsZero() {
		return model.Measurement{}, false
	}
	return model.Measurement{Position: model.GeoPoint{Lat: lat, Lon: lon}, Power: v}, true
}

// ReadDir loads every psep*.csv file of dir, in lexical order, into a new
// store.
func ReadDir(dir string) (*kb.MeasurementStore, error) {
	store := kb.NewMeasurementStore()
	if _, err := LoadDir(dir, store); err != nil {
		return nil, err
	}
	return store, nil
}

// LoadDir appends every psep*.csv file of dir to store, one Add per file,
// and returns the number of files read.
func LoadDir(dir string, store *kb.MeasurementStore) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "psep") && strings.HasSuffix(name, ".csv") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	for _, name := range files {
		rows, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			continue
		}
		if err := store.Add(rows...); err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
	}
	return len(files), nil
}

func readFile(path string) ([]model.Measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	rows, _, err := ReadCSV(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
