// Package grid builds target point sets: the Arctic EPSG:3413 grid and
// explicit coordinate lists.
package grid

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// NSIDC sea ice polar stereographic north (EPSG:3413) on WGS84.
const (
	semiMajor       = 6378137.0
	flattening      = 1 / 298.257223563
	trueScaleLatDeg = 70.0
	centralLonDeg   = -45.0

	// Extent is the half-width of the grid in projected metres.
	Extent = 2500000.0
)

var (
	ecc2 = flattening * (2 - flattening)
	ecc  = math.Sqrt(ecc2)

	tc = tsfn(trueScaleLatDeg * math.Pi / 180)
	mc = msfn(trueScaleLatDeg * math.Pi / 180)
)

func tsfn(phi float64) float64 {
	s := ecc * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-s)/(1+s), ecc/2)
}

func msfn(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-ecc2*s*s)
}

// ForwardNorthPolarStereographic projects p to EPSG:3413 metres.
func ForwardNorthPolarStereographic(p model.GeoPoint) (x, y float64) {
	phi := p.Lat * math.Pi / 180
	dLambda := (p.Lon - centralLonDeg) * math.Pi / 180
	rho := semiMajor * mc * tsfn(phi) / tc
	return rho * math.Sin(dLambda), -rho * math.Cos(dLambda)
}

// InverseNorthPolarStereographic recovers geographic degrees from EPSG:3413
// metres. Longitudes are normalised to (-180, 180].
func InverseNorthPolarStereographic(x, y float64) model.GeoPoint {
	rho := math.Hypot(x, y)
	if rho == 0 {
		return model.GeoPoint{Lat: 90, Lon: centralLonDeg}
	}
	t := rho * tc / (semiMajor * mc)
	chi := math.Pi/2 - 2*math.Atan(t)

	e4 := ecc2 * ecc2
	e6 := e4 * ecc2
	e8 := e6 * ecc2
	phi := chi +
		(ecc2/2+5*e4/24+e6/12+13*e8/360)*math.Sin(2*chi) +
		(7*e4/48+29*e6/240+811*e8/11520)*math.Sin(4*chi) +
		(7*e6/120+81*e8/1120)*math.Sin(6*chi) +
		(4279*e8/161280)*math.Sin(8*chi)

	lon := centralLonDeg + math.Atan2(x, -y)*180/math.Pi
	return model.GeoPoint{Lat: phi * 180 / math.Pi, Lon: normalizeLon(lon)}
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon <= 0 {
		lon += 360
	}
	return lon - 180
}

// Arctic returns the EPSG:3413 grid with stepKm spacing over
// [-Extent, Extent]², inverse projected and kept where lat >= latMin. Points
// are ordered row by row, y outer and x inner, from the minimum corner.
func Arctic(stepKm, latMin float64) []model.GeoPoint {
	if stepKm <= 0 {
		return nil
	}
	step := stepKm * 1000
	n := int(math.Floor(2*Extent/step)) + 1

	var out []model.GeoPoint
	for j := range n {
		y := -Extent + float64(j)*step
		for i := range n {
			x := -Extent + float64(i)*step
			if p := InverseNorthPolarStereographic(x, y); p.Lat >= latMin {
				out = append(out, p)
			}
		}
	}
	return out
}

// ParseTargets reads "lat,lon" lines. Blank lines and lines starting with
// '#' are ignored, as is a leading "lat,lon" header.
func ParseTargets(r io.Reader) ([]model.GeoPoint, error) {
	var out []model.GeoPoint
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: want \"lat,lon\", got %q", line, text)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(parts[0]), "lat") {
			continue
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: longitude: %w", line, err)
		}
		if lat < -90 || lat > 90 {
			return nil, fmt.Errorf("line %d: latitude %g out of range", line, lat)
		}
		out = append(out, model.GeoPoint{Lat: lat, Lon: lon})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
