package product

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// NetCDF reads bursts lazily from a SAR FBR NetCDF product. Positions and
// gains are loaded at open; waveforms are sliced per burst.
type NetCDF struct {
	path  string
	group api.Group

	positions []model.GeoPoint
	gains     []model.BurstGain

	mu     sync.Mutex
	wavesI api.VarGetter
	wavesQ api.VarGetter
	scaleI scaling
	scaleQ scaling
}

// OpenNetCDF opens the product at path.
func OpenNetCDF(path string) (*NetCDF, error) {
	group, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	p := &NetCDF{path: path, group: group}
	if err := p.load(); err != nil {
		group.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return p, nil
}

func (p *NetCDF) load() error {
	lat, err := p.readAll(VarLat)
	if err != nil {
		return err
	}
	lon, err := p.readAll(VarLon)
	if err != nil {
		return err
	}
	if len(lat) != len(lon) {
		return fmt.Errorf("%s has %d values, %s has %d", VarLat, len(lat), VarLon, len(lon))
	}

	gainVars := []string{VarTotalGain, VarAGC1, VarAGC2, VarInstrGainCor}
	gains := make([][]float64, len(gainVars))
	for i, name := range gainVars {
		if gains[i], err = p.readAll(name); err != nil {
			return err
		}
		if len(gains[i]) != len(lat) {
			return fmt.Errorf("%s has %d values, want %d", name, len(gains[i]), len(lat))
		}
	}

	p.positions = make([]model.GeoPoint, len(lat))
	p.gains = make([]model.BurstGain, len(lat))
	for i := range lat {
		p.positions[i] = model.GeoPoint{Lat: lat[i], Lon: lon[i]}
		p.gains[i] = model.BurstGain{
			Static:               gains[0][i],
			AGC1:                 gains[1][i],
			AGC2:                 gains[2][i],
			InstrumentCorrection: gains[3][i],
		}
	}

	if p.wavesI, err = p.group.GetVarGetter(VarWaveformI); err != nil {
		return fmt.Errorf("variable %s: %w", VarWaveformI, err)
	}
	if p.wavesQ, err = p.group.GetVarGetter(VarWaveformQ); err != nil {
		return fmt.Errorf("variable %s: %w", VarWaveformQ, err)
	}
	p.scaleI = scalingOf(p.wavesI.Attributes())
	p.scaleQ = scalingOf(p.wavesQ.Attributes())
	return nil
}

func (p *NetCDF) readAll(name string) ([]float64, error) {
	v, err := p.group.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	vals, _ := flatten(v.Values)
	scalingOf(v.Attributes).apply(vals)
	return vals, nil
}

// Positions implements Source.
func (p *NetCDF) Positions() []model.GeoPoint { return p.positions }

// Burst implements Source.
func (p *NetCDF) Burst(i int) (model.Burst, error) {
	if i < 0 || i >= len(p.positions) {
		return model.Burst{}, fmt.Errorf("%w: %d of %d in %s", ErrBurstRange, i, len(p.positions), p.path)
	}

	p.mu.Lock()
	rawI, errI := p.wavesI.GetSlice(int64(i), int64(i+1))
	rawQ, errQ := p.wavesQ.GetSlice(int64(i), int64(i+1))
	p.mu.Unlock()
	if errI != nil {
		return model.Burst{}, fmt.Errorf("burst %d %s: %w", i, VarWaveformI, errI)
	}
	if errQ != nil {
		return model.Burst{}, fmt.Errorf("burst %d %s: %w", i, VarWaveformQ, errQ)
	}

	rowsI, err := echoRows(rawI, p.scaleI)
	if err != nil {
		return model.Burst{}, fmt.Errorf("burst %d %s: %w", i, VarWaveformI, err)
	}
	rowsQ, err := echoRows(rawQ, p.scaleQ)
	if err != nil {
		return model.Burst{}, fmt.Errorf("burst %d %s: %w", i, VarWaveformQ, err)
	}

	return model.Burst{
		Index:    i,
		Position: p.positions[i],
		I:        rowsI,
		Q:        rowsQ,
		Gain:     p.gains[i],
	}, nil
}

// Close implements Source.
func (p *NetCDF) Close() error {
	p.group.Close()
	return nil
}

// echoRows reshapes a one-burst slice into EchoesPerBurst rows.
func echoRows(raw any, s scaling) ([][]float64, error) {
	vals, _ := flatten(raw)
	if len(vals) == 0 || len(vals)%model.EchoesPerBurst != 0 {
		return nil, fmt.Errorf("%d samples do not split into %d echoes", len(vals), model.EchoesPerBurst)
	}
	s.apply(vals)
	n := len(vals) / model.EchoesPerBurst
	rows := make([][]float64, model.EchoesPerBurst)
	for k := range rows {
		rows[k] = vals[k*n : (k+1)*n : (k+1)*n]
	}
	return rows, nil
}

// scaling is the CF packing convention: value = raw*scale + offset.
type scaling struct {
	scale  float64
	offset float64
}

func scalingOf(attrs api.AttributeMap) scaling {
	s := scaling{scale: 1}
	if attrs == nil {
		return s
	}
	if v, ok := attrs.Get("scale_factor"); ok {
		if f, _ := flatten(v); len(f) > 0 {
			s.scale = f[0]
		}
	}
	if v, ok := attrs.Get("add_offset"); ok {
		if f, _ := flatten(v); len(f) > 0 {
			s.offset = f[0]
		}
	}
	return s
}

func (s scaling) apply(vals []float64) {
	if s.scale == 1 && s.offset == 0 {
		return
	}
	for i := range vals {
		vals[i] = vals[i]*s.scale + s.offset
	}
}

// flatten converts a scalar or an arbitrarily nested slice of numbers into
// a row-major []float64. ok is false if a non-numeric element was met.
func flatten(v any) (out []float64, ok bool) {
	ok = true
	var walk func(rv reflect.Value)
	walk = func(rv reflect.Value) {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				walk(rv.Index(i))
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out = append(out, float64(rv.Int()))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out = append(out, float64(rv.Uint()))
		case reflect.Float32, reflect.Float64:
			out = append(out, rv.Float())
		case reflect.Interface, reflect.Pointer:
			if !rv.IsNil() {
				walk(rv.Elem())
			}
		default:
			ok = false
		}
	}
	if v != nil {
		walk(reflect.ValueOf(v))
	}
	return out, ok
}
