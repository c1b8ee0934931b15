// Package product reads SAR FBR bursts from measurement products.
package product

import (
	"errors"
	"fmt"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// Variable names of the 85 Hz Ku-band SAR FBR group.
const (
	VarLat          = "lat_85_ku"
	VarLon          = "lon_85_ku"
	VarWaveformI    = "cplx_waveform_ch1_i_85_ku"
	VarWaveformQ    = "cplx_waveform_ch1_q_85_ku"
	VarTotalGain    = "tot_gain_ch1_85_ku"
	VarAGC1         = "agc_1_85_ku"
	VarAGC2         = "agc_2_85_ku"
	VarInstrGainCor = "instr_cor_gain_tx_rx_85_ku"
)

// ErrBurstRange is returned for a burst index outside the product.
var ErrBurstRange = errors.New("burst index out of range")

// Source is a random-access burst reader over one product.
type Source interface {
	// Positions returns the geolocation of every burst, indexed by burst.
	Positions() []model.GeoPoint
	// Burst reads the waveforms and gains of burst i.
	Burst(i int) (model.Burst, error)
	Close() error
}

// Memory is an in-memory Source.
type Memory struct {
	Bursts []model.Burst
}

// Positions implements Source.
func (m *Memory) Positions() []model.GeoPoint {
	out := make([]model.GeoPoint, len(m.Bursts))
	for i, b := range m.Bursts {
		out[i] = b.Position
	}
	return out
}

// Burst implements Source.
func (m *Memory) Burst(i int) (model.Burst, error) {
	if i < 0 || i >= len(m.Bursts) {
		return model.Burst{}, fmt.Errorf("%w: %d of %d", ErrBurstRange, i, len(m.Bursts))
	}
	b := m.Bursts[i]
	b.Index = i
	return b, nil
}

// Close implements Source.
func (m *Memory) Close() error { return nil }
