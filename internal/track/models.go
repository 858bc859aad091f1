package track

import "time"

type Track struct {
	ID                  string       `json:"id"`
	UserID              string       `json:"user_id"`
	MapID               string       `json:"map_id"`
	Hash                string       `json:"hash"`
	Name                string       `json:"name"`
	Filename            string       `json:"filename"`
	Creator             string       `json:"creator,omitempty"`
	ActivityType        string       `json:"activity_type"`
	ActivityDate        time.Time    `json:"activity_date"`
	UploadedAt          time.Time    `json:"uploaded_at"`
	DistanceMeters      float64      `json:"distance_meters"`
	DurationSeconds     int64        `json:"duration_seconds"`
	AvgSpeedMs          float64      `json:"avg_speed_ms"`
	MaxSpeedMs          float64      `json:"max_speed_ms"`
	MinSpeedMs          float64      `json:"min_speed_ms"`
	ElevationGainMeters float64      `json:"elevation_gain_meters"`
	ElevationLossMeters float64      `json:"elevation_loss_meters"`
	BoundsMinLat        float64      `json:"bounds_min_lat"`
	BoundsMaxLat        float64      `json:"bounds_max_lat"`
	BoundsMinLon        float64      `json:"bounds_min_lon"`
	BoundsMaxLon        float64      `json:"bounds_max_lon"`
	Visible             bool         `json:"visible"`
	Coordinates         [][2]float64 `json:"coordinates,omitempty"`
	SegmentSpeeds       []float64    `json:"segment_speeds,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type UploadResult struct {
	Duplicate bool
	Track     Track
}

// Geometry is the reduced coordinate/speed sequence served for rendering.
type Geometry struct {
	TrackID       string       `json:"track_id"`
	Coordinates   [][2]float64 `json:"coordinates"`
	SegmentSpeeds []float64    `json:"segment_speeds,omitempty"`
}

type DeleteTracksResult struct {
	Deleted     int64
	HashesFreed []string
}
