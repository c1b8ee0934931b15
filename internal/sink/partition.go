// Package sink persists fit results: one CSV partition per fit worker and an
// optional MongoDB mirror.
package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// Header is the partition file column layout.
var Header = []string{"lat", "lon", "value", "power", "crl", "flag"}

// PartitionPattern matches every partition file in a directory.
const PartitionPattern = "rsr_results_core_*.csv"

// ErrClosed is returned when appending to a closed sink.
var ErrClosed = errors.New("sink closed")

// Sink receives a worker's records one sub-batch at a time.
type Sink interface {
	Append(ctx context.Context, records []model.OutputRecord) error
	Close() error
}

// PartitionPath is the file written by worker id.
func PartitionPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("rsr_results_core_%d.csv", id))
}

// RemovePartitions deletes every partition file in dir and returns how many
// were removed. A missing dir is not an error.
func RemovePartitions(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, PartitionPattern))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, fmt.Errorf("remove stale partition: %w", err)
		}
		n++
	}
	return n, nil
}

// Partition appends records to one worker's CSV file. Rows are flushed after
// every Append, so a crash loses at most the sub-batch in flight.
type Partition struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	rows int
}

// CreatePartition truncates the partition file of worker id and writes the
// header.
func CreatePartition(dir string, id int) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}
	path := PartitionPath(dir, id)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create partition: %w", err)
	}
	p := &Partition{path: path, f: f, w: csv.NewWriter(f)}
	if err := p.w.Write(Header); err != nil {
		f.Close()
		return nil, err
	}
	p.w.Flush()
	if err := p.w.Error(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

// Path returns the partition file path.
func (p *Partition) Path() string { return p.path }

// Rows returns the number of records appended so far.
func (p *Partition) Rows() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows
}

// Append writes records and flushes them to the file.
func (p *Partition) Append(_ context.Context, records []model.OutputRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return ErrClosed
	}
	for _, r := range records {
		row, err := FormatRecord(r)
		if err != nil {
			return err
		}
		if err := p.w.Write(row); err != nil {
			return err
		}
	}
	p.w.Flush()
	if err := p.w.Error(); err != nil {
		return fmt.Errorf("append %s: %w", filepath.Base(p.path), err)
	}
	p.rows += len(records)
	return nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	p.w.Flush()
	err := errors.Join(p.w.Error(), p.f.Close())
	p.f = nil
	return err
}

type paramsJSON struct {
	A  *float64 `json:"a"`
	S  *float64 `json:"s"`
	Mu *float64 `json:"mu"`
}

type powerJSON struct {
	Total    *float64 `json:"pt"`
	Noise    *float64 `json:"pn"`
	Coherent *float64 `json:"pc"`
	Ratio    *float64 `json:"pc-pn"`
}

// num maps non-finite values to JSON null.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// val maps JSON null back to NaN.
func val(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatRecord renders r as a partition row. The parameter and power columns
// are JSON objects; non-finite values are written as null.
func FormatRecord(r model.OutputRecord) ([]string, error) {
	value, err := json.Marshal(paramsJSON{
		A:  num(r.Fit.Params.A),
		S:  num(r.Fit.Params.S),
		Mu: num(r.Fit.Params.Mu),
	})
	if err != nil {
		return nil, err
	}
	power, err := json.Marshal(powerJSON{
		Total:    num(r.Fit.Power.Total),
		Noise:    num(r.Fit.Power.Noise),
		Coherent: num(r.Fit.Power.Coherent),
		Ratio:    num(r.Fit.Power.Ratio),
	})
	if err != nil {
		return nil, err
	}
	return []string{
		formatFloat(r.Target.Lat),
		formatFloat(r.Target.Lon),
		string(value),
		string(power),
		formatFloat(r.Fit.Coherence),
		strconv.Itoa(r.Fit.Flag()),
	}, nil
}

// ParseRecord is the inverse of FormatRecord. The optimizer method is not
// persisted and comes back empty.
func ParseRecord(row []string) (model.OutputRecord, error) {
	var r model.OutputRecord
	if len(row) != len(Header) {
		return r, fmt.Errorf("got %d columns, want %d", len(row), len(Header))
	}
	var err error
	if r.Target.Lat, err = strconv.ParseFloat(row[0], 64); err != nil {
		return r, fmt.Errorf("lat: %w", err)
	}
	if r.Target.Lon, err = strconv.ParseFloat(row[1], 64); err != nil {
		return r, fmt.Errorf("lon: %w", err)
	}
	var pj paramsJSON
	if err := json.Unmarshal([]byte(row[2]), &pj); err != nil {
		return r, fmt.Errorf("value: %w", err)
	}
	var wj powerJSON
	if err := json.Unmarshal([]byte(row[3]), &wj); err != nil {
		return r, fmt.Errorf("power: %w", err)
	}
	if r.Fit.Coherence, err = strconv.ParseFloat(row[4], 64); err != nil {
		return r, fmt.Errorf("crl: %w", err)
	}
	flag, err := strconv.Atoi(row[5])
	if err != nil {
		return r, fmt.Errorf("flag: %w", err)
	}
	r.Fit.Params = model.FitParams{A: val(pj.A), S: val(pj.S), Mu: val(pj.Mu)}
	r.Fit.Power = model.PowerComponents{
		Total:    val(wj.Total),
		Noise:    val(wj.Noise),
		Coherent: val(wj.Coherent),
		Ratio:    val(wj.Ratio),
	}
	r.Fit.Converged = flag == 1
	return r, nil
}
