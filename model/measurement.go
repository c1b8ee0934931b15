package model

// EchoesPerBurst is the number of sub-echoes in one SAR burst.
const EchoesPerBurst = 64

// GeoPoint is a geographic position in degrees. No datum correction is applied.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// BurstGain holds the calibration terms recorded with a burst (dB).
type BurstGain struct {
	Static               float64
	AGC1                 float64
	AGC2                 float64
	InstrumentCorrection float64
}

// Total returns the static gain plus the three dynamic terms.
func (g BurstGain) Total() float64 {
	return g.Static + g.AGC1 + g.AGC2 + g.InstrumentCorrection
}

// Burst is one along-track measurement: 64 complex sub-echo waveforms and
// their calibration. Bursts are read from a product, extracted once and
// dropped.
type Burst struct {
	Index    int
	Position GeoPoint

	// I and Q hold EchoesPerBurst rows of in-phase and quadrature samples.
	I [][]float64
	Q [][]float64

	Gain BurstGain
}

// PowerVector is the calibrated peak surface echo power (dB) of each
// sub-echo of a burst. The zero vector marks a failed burst.
type PowerVector [EchoesPerBurst]float64

// IsZero reports whether v is the failed-burst sentinel.
func (v PowerVector) IsZero() bool {
	for _, p := range v {
		if p != 0 {
			return false
		}
	}
	return true
}

// Measurement is a stored PSEP vector keyed by its burst position.
type Measurement struct {
	Position GeoPoint
	Power    PowerVector
}

// ClassifiedPoint is a reference point of the monthly lead / sea-ice
// classification product.
type ClassifiedPoint struct {
	Position GeoPoint
	Lead     int
	SeaIce   int
}

// IsIceFloe reports whether the point is sea ice and not a lead.
func (c ClassifiedPoint) IsIceFloe() bool {
	return c.Lead == 0 && c.SeaIce == 1
}
