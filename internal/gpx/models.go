package gpx

import "time"

// RawTrack is the decoded point stream of one GPX document, before any
// analytics are derived. Elevations and timestamps are sparse series:
// points without a reading contribute nothing to them.
type RawTrack struct {
	Coordinates [][2]float64 // (lon, lat) in document order
	Elevations  []float64
	Timestamps  []time.Time
	Creator     string
}

// ParsedTrackData aggregates everything derived from one upload.
type ParsedTrackData struct {
	Coordinates         [][2]float64
	SegmentSpeeds       []float64
	DistanceMeters      float64
	DurationSeconds     int64
	AvgSpeedMs          float64
	MaxSpeedMs          float64
	MinSpeedMs          float64
	ElevationGainMeters float64
	ElevationLossMeters float64
	BoundsMinLat        float64
	BoundsMaxLat        float64
	BoundsMinLon        float64
	BoundsMaxLon        float64
	ActivityDate        time.Time
	Creator             string
}
