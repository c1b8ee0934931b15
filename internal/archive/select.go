package archive

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ThomasTBO/rsr-sea-ice/internal/logging"
)

// ErrNoLocation is returned for a header without a Product_Location block.
var ErrNoLocation = errors.New("Product_Location not found")

// TrackExtent is the latitude span of a product, in degrees.
type TrackExtent struct {
	StartLat float64
	StopLat  float64
}

// Reaches reports whether either end of the track lies north of latMin.
func (e TrackExtent) Reaches(latMin float64) bool {
	return e.StartLat > latMin || e.StopLat > latMin
}

type productLocation struct {
	StartLat string `xml:"Start_Lat"`
	StopLat  string `xml:"Stop_Lat"`
}

// ParseHeader reads the Product_Location of a product header. Latitudes are
// stored in micro-degrees.
func ParseHeader(r io.Reader) (TrackExtent, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return TrackExtent{}, ErrNoLocation
		}
		if err != nil {
			return TrackExtent{}, fmt.Errorf("decode header: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Product_Location" {
			continue
		}
		var loc productLocation
		if err := dec.DecodeElement(&loc, &start); err != nil {
			return TrackExtent{}, fmt.Errorf("decode Product_Location: %w", err)
		}
		startLat, err := parseMicroDegrees(loc.StartLat)
		if err != nil {
			return TrackExtent{}, fmt.Errorf("Start_Lat: %w", err)
		}
		stopLat, err := parseMicroDegrees(loc.StopLat)
		if err != nil {
			return TrackExtent{}, fmt.Errorf("Stop_Lat: %w", err)
		}
		return TrackExtent{StartLat: startLat, StopLat: stopLat}, nil
	}
}

func parseMicroDegrees(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return v / 1e6, nil
}

// SelectTracks fetches every .HDR header of the archive directory and
// returns, sorted, the .nc products whose track reaches north of latMin.
// Unreadable headers are logged and skipped.
func SelectTracks(ctx context.Context, client Client, latMin float64, log logging.Logger) ([]string, error) {
	if log == nil {
		log = logging.Noop()
	}
	names, err := client.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var headers, selected []string
	for _, name := range names {
		if strings.HasSuffix(name, ".HDR") {
			headers = append(headers, name)
		}
	}
	log.Info(ctx, "processing product headers", logging.Int("headers", len(headers)))

	for i, name := range headers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := client.Fetch(ctx, name, &buf); err != nil {
			log.Warn(ctx, "header fetch failed", logging.String("header", name), logging.Err(err))
			continue
		}
		extent, err := ParseHeader(&buf)
		if err != nil {
			log.Warn(ctx, "header skipped", logging.String("header", name), logging.Err(err))
			continue
		}
		if extent.Reaches(latMin) {
			selected = append(selected, strings.TrimSuffix(name, ".HDR")+".nc")
		}
		if (i+1)%100 == 0 {
			log.Debug(ctx, "headers processed", logging.Int("done", i+1), logging.Int("total", len(headers)))
		}
	}

	log.Info(ctx, "selected tracks",
		logging.Int("selected", len(selected)),
		logging.Int("headers", len(headers)),
		logging.Float("lat_min", latMin),
	)
	return selected, nil
}
