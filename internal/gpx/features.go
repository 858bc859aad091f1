package gpx

import (
	"time"

	"backend-trailmap/internal/geo"
)

// Extract derives trip analytics from a decoded point stream. It is a pure
// function; now supplies the fallback activity date for files without
// timestamps.
func Extract(raw *RawTrack, now func() time.Time) ParsedTrackData {
	data := ParsedTrackData{
		Coordinates: raw.Coordinates,
		Creator:     raw.Creator,
	}

	segmentDistances := segmentDistances(raw.Coordinates)
	for _, d := range segmentDistances {
		data.DistanceMeters += d
	}

	if len(raw.Timestamps) >= 2 {
		first := raw.Timestamps[0]
		last := raw.Timestamps[len(raw.Timestamps)-1]
		data.DurationSeconds = int64(last.Sub(first).Seconds())
	}

	data.SegmentSpeeds, data.MaxSpeedMs, data.MinSpeedMs = segmentSpeeds(segmentDistances, raw.Timestamps)
	if data.DurationSeconds > 0 {
		data.AvgSpeedMs = data.DistanceMeters / float64(data.DurationSeconds)
	}

	data.ElevationGainMeters, data.ElevationLossMeters = elevationDeltas(raw.Elevations)
	data.BoundsMinLat, data.BoundsMaxLat, data.BoundsMinLon, data.BoundsMaxLon = bounds(raw.Coordinates)

	if len(raw.Timestamps) > 0 {
		data.ActivityDate = raw.Timestamps[0]
	} else {
		data.ActivityDate = now()
	}
	return data
}

func segmentDistances(coords [][2]float64) []float64 {
	if len(coords) < 2 {
		return nil
	}
	distances := make([]float64, 0, len(coords)-1)
	for i := 1; i < len(coords); i++ {
		lon1, lat1 := coords[i-1][0], coords[i-1][1]
		lon2, lat2 := coords[i][0], coords[i][1]
		distances = append(distances, geo.HaversineM(lat1, lon1, lat2, lon2))
	}
	return distances
}

// segmentSpeeds needs a timestamp for every point; with a sparse timestamp
// series segments cannot be paired up, so the sequence stays empty. Segments
// with zero duration keep a 0 entry but never count toward max/min.
func segmentSpeeds(distances []float64, timestamps []time.Time) (speeds []float64, maxSpeed, minSpeed float64) {
	if len(distances) == 0 || len(timestamps) != len(distances)+1 {
		return nil, 0, 0
	}

	speeds = make([]float64, len(distances))
	validSeen := false
	for i, d := range distances {
		dur := timestamps[i+1].Sub(timestamps[i]).Seconds()
		if dur <= 0 {
			continue
		}
		speed := d / dur
		speeds[i] = speed
		if !validSeen || speed > maxSpeed {
			maxSpeed = speed
		}
		if !validSeen || speed < minSpeed {
			minSpeed = speed
		}
		validSeen = true
	}
	if !validSeen {
		return nil, 0, 0
	}
	return speeds, maxSpeed, minSpeed
}

func elevationDeltas(elevations []float64) (gain, loss float64) {
	for i := 1; i < len(elevations); i++ {
		diff := elevations[i] - elevations[i-1]
		if diff > 0 {
			gain += diff
		} else {
			loss += -diff
		}
	}
	return gain, loss
}

func bounds(coords [][2]float64) (minLat, maxLat, minLon, maxLon float64) {
	if len(coords) == 0 {
		return 0, 0, 0, 0
	}
	minLon, maxLon = coords[0][0], coords[0][0]
	minLat, maxLat = coords[0][1], coords[0][1]
	for _, c := range coords[1:] {
		if c[0] < minLon {
			minLon = c[0]
		}
		if c[0] > maxLon {
			maxLon = c[0]
		}
		if c[1] < minLat {
			minLat = c[1]
		}
		if c[1] > maxLat {
			maxLat = c[1]
		}
	}
	return minLat, maxLat, minLon, maxLon
}
