package gpx

import (
	"errors"
	"fmt"

	gpxgo "github.com/tkrajina/gpxgo/gpx"
)

var ErrNoTrackPoints = errors.New("no track points found in GPX file")

// Decode parses raw GPX bytes into an ordered point stream. It fails when
// the document is not valid GPX or contains no track points at all.
func Decode(content []byte) (*RawTrack, error) {
	doc, err := gpxgo.ParseBytes(content)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}

	raw := &RawTrack{Creator: doc.Creator}
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, pt := range seg.Points {
				raw.Coordinates = append(raw.Coordinates, [2]float64{pt.Longitude, pt.Latitude})
				// zero elevation is treated as absent, matching exports
				// that emit <ele>0</ele> for missing barometer data
				if pt.Elevation.NotNull() && pt.Elevation.Value() > 0 {
					raw.Elevations = append(raw.Elevations, pt.Elevation.Value())
				}
				if !pt.Timestamp.IsZero() {
					raw.Timestamps = append(raw.Timestamps, pt.Timestamp)
				}
			}
		}
	}

	if len(raw.Coordinates) == 0 {
		return nil, ErrNoTrackPoints
	}
	return raw, nil
}
