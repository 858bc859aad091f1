package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"backend-trailmap/internal/db"
	"backend-trailmap/internal/gpx"
	"backend-trailmap/internal/locks"
	"backend-trailmap/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInvalidGPX marks uploads whose content could not be decoded as GPX.
var ErrInvalidGPX = errors.New("invalid GPX file")

var allowedUpdateFields = map[string]struct{}{
	"visible":       {},
	"name":          {},
	"activity_type": {},
}

const trackColumns = `id, user_id, map_id, hash, name, filename, COALESCE(creator,''), COALESCE(activity_type,''),
	activity_date, uploaded_at, COALESCE(distance_meters,0), COALESCE(duration_seconds,0),
	COALESCE(avg_speed_ms,0), COALESCE(max_speed_ms,0), COALESCE(min_speed_ms,0),
	COALESCE(elevation_gain_meters,0), COALESCE(elevation_loss_meters,0),
	COALESCE(bounds_min_lat,0), COALESCE(bounds_max_lat,0), COALESCE(bounds_min_lon,0), COALESCE(bounds_max_lon,0),
	visible, created_at, updated_at`

type Service struct {
	db    db.Querier
	blobs *storage.Service
	locks *locks.Registry
	now   func() time.Time
}

func NewService(db db.Querier, blobs *storage.Service, locks *locks.Registry) *Service {
	return &Service{db: db, blobs: blobs, locks: locks, now: time.Now}
}

// UploadTrack drives one upload end to end: content hash, duplicate
// short-circuit, decode/extract/compress, blob write, row insert. A unique
// violation on (map_id, hash) means a concurrent upload of the same bytes
// won the race; it is converted into the duplicate response, never surfaced.
func (s *Service) UploadTrack(ctx context.Context, filename string, content []byte, mapID, userID string) (UploadResult, error) {
	hash := gpx.ContentHash(content)

	existing, err := s.findByHash(ctx, mapID, userID, hash)
	if err == nil {
		return UploadResult{Duplicate: true, Track: existing}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return UploadResult{}, err
	}

	raw, err := gpx.Decode(content)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrInvalidGPX, err)
	}
	data := gpx.Extract(raw, s.now)

	reducedCoords := gpx.ReduceCoordinates(data.Coordinates)
	reducedSpeeds := gpx.ReduceSpeeds(data.SegmentSpeeds, len(reducedCoords))

	unlock := s.locks.Acquire(userID)
	defer unlock()

	// the blob is keyed by hash, so a leftover file after a rolled-back
	// insert is harmless and will be reused on retry
	if err := s.blobs.Store(userID, hash, content); err != nil {
		return UploadResult{}, err
	}

	t := Track{
		ID:                  uuid.NewString(),
		UserID:              userID,
		MapID:               mapID,
		Hash:                hash,
		Name:                strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)),
		Filename:            filename,
		Creator:             data.Creator,
		ActivityType:        gpx.InferActivityType(filename),
		ActivityDate:        data.ActivityDate,
		DistanceMeters:      data.DistanceMeters,
		DurationSeconds:     data.DurationSeconds,
		AvgSpeedMs:          data.AvgSpeedMs,
		MaxSpeedMs:          data.MaxSpeedMs,
		MinSpeedMs:          data.MinSpeedMs,
		ElevationGainMeters: data.ElevationGainMeters,
		ElevationLossMeters: data.ElevationLossMeters,
		BoundsMinLat:        data.BoundsMinLat,
		BoundsMaxLat:        data.BoundsMaxLat,
		BoundsMinLon:        data.BoundsMinLon,
		BoundsMaxLon:        data.BoundsMaxLon,
		Visible:             true,
		Coordinates:         reducedCoords,
		SegmentSpeeds:       reducedSpeeds,
	}

	coordsJSON, err := json.Marshal(reducedCoords)
	if err != nil {
		return UploadResult{}, err
	}
	var speedsJSON []byte
	if len(reducedSpeeds) > 0 {
		if speedsJSON, err = json.Marshal(reducedSpeeds); err != nil {
			return UploadResult{}, err
		}
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO tracks (id, user_id, map_id, hash, name, filename, creator, activity_type, activity_date,
			distance_meters, duration_seconds, avg_speed_ms, max_speed_ms, min_speed_ms,
			elevation_gain_meters, elevation_loss_meters,
			bounds_min_lat, bounds_max_lat, bounds_min_lon, bounds_max_lon,
			visible, coordinates, segment_speeds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING uploaded_at, created_at, updated_at
	`, t.ID, t.UserID, t.MapID, t.Hash, t.Name, t.Filename, nilIfEmpty(t.Creator), t.ActivityType, t.ActivityDate,
		t.DistanceMeters, t.DurationSeconds, t.AvgSpeedMs, t.MaxSpeedMs, t.MinSpeedMs,
		t.ElevationGainMeters, t.ElevationLossMeters,
		t.BoundsMinLat, t.BoundsMaxLat, t.BoundsMinLon, t.BoundsMaxLon,
		t.Visible, coordsJSON, speedsJSON)
	if err := row.Scan(&t.UploadedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			winner, lookupErr := s.findByHash(ctx, mapID, userID, hash)
			if lookupErr != nil {
				return UploadResult{}, lookupErr
			}
			return UploadResult{Duplicate: true, Track: winner}, nil
		}
		return UploadResult{}, err
	}

	return UploadResult{Track: t}, nil
}

func (s *Service) findByHash(ctx context.Context, mapID, userID, hash string) (Track, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+trackColumns+`
		FROM tracks WHERE map_id=$1 AND user_id=$2 AND hash=$3
	`, mapID, userID, hash)
	return scanTrack(row)
}

func (s *Service) GetTrack(ctx context.Context, trackID, mapID, userID string) (Track, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+trackColumns+`
		FROM tracks WHERE id=$1 AND map_id=$2 AND user_id=$3
	`, trackID, mapID, userID)
	return scanTrack(row)
}

func (s *Service) ListTracks(ctx context.Context, mapID, userID string) ([]Track, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+trackColumns+`
		FROM tracks WHERE map_id=$1 AND user_id=$2
		ORDER BY activity_date DESC
	`, mapID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (s *Service) GetTrackGeometry(ctx context.Context, trackID, mapID, userID string) (Geometry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, coordinates, segment_speeds
		FROM tracks WHERE id=$1 AND map_id=$2 AND user_id=$3 AND coordinates IS NOT NULL
	`, trackID, mapID, userID)
	return scanGeometry(row)
}

// GetTrackGeometries resolves ids in one batched query. Ids that do not
// exist, are not owned, or carry no geometry are filtered out silently.
func (s *Service) GetTrackGeometries(ctx context.Context, trackIDs []string, mapID, userID string) ([]Geometry, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, coordinates, segment_speeds
		FROM tracks WHERE id = ANY($1) AND map_id=$2 AND user_id=$3 AND coordinates IS NOT NULL
	`, trackIDs, mapID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var geometries []Geometry
	for rows.Next() {
		g, err := scanGeometry(rows)
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, g)
	}
	return geometries, nil
}

// UpdateTrack mutates only the allow-listed fields; anything else in
// updates is dropped without error.
func (s *Service) UpdateTrack(ctx context.Context, trackID string, updates map[string]any, mapID, userID string) (Track, error) {
	sets, args := buildUpdateClause(updates)
	if len(sets) == 0 {
		return s.GetTrack(ctx, trackID, mapID, userID)
	}

	args = append([]any{trackID, mapID, userID}, args...)
	row := s.db.QueryRow(ctx, `
		UPDATE tracks SET `+strings.Join(sets, ", ")+`, updated_at=now()
		WHERE id=$1 AND map_id=$2 AND user_id=$3
		RETURNING `+trackColumns+`
	`, args...)
	return scanTrack(row)
}

// BulkUpdateTracks applies the same allow-listed updates to every matching
// row; non-matching ids are skipped silently. Returns rows modified.
func (s *Service) BulkUpdateTracks(ctx context.Context, trackIDs []string, updates map[string]any, mapID, userID string) (int64, error) {
	if len(trackIDs) == 0 {
		return 0, nil
	}
	sets, args := buildUpdateClause(updates)
	if len(sets) == 0 {
		return 0, nil
	}

	args = append([]any{trackIDs, mapID, userID}, args...)
	tag, err := s.db.Exec(ctx, `
		UPDATE tracks SET `+strings.Join(sets, ", ")+`, updated_at=now()
		WHERE id = ANY($1) AND map_id=$2 AND user_id=$3
	`, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteTracks removes the matching rows in one transaction and reports
// which hashes lost their last reference for this user across all maps.
// Non-matching ids are skipped, not errors.
func (s *Service) DeleteTracks(ctx context.Context, trackIDs []string, mapID, userID string) (DeleteTracksResult, error) {
	if len(trackIDs) == 0 {
		return DeleteTracksResult{}, nil
	}

	unlock := s.locks.Acquire(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return DeleteTracksResult{}, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT hash FROM tracks WHERE id = ANY($1) AND map_id=$2 AND user_id=$3
	`, trackIDs, mapID, userID)
	if err != nil {
		return DeleteTracksResult{}, err
	}
	var candidates []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return DeleteTracksResult{}, err
		}
		candidates = append(candidates, hash)
	}
	rows.Close()

	tag, err := tx.Exec(ctx, `
		DELETE FROM tracks WHERE id = ANY($1) AND map_id=$2 AND user_id=$3
	`, trackIDs, mapID, userID)
	if err != nil {
		return DeleteTracksResult{}, err
	}

	freed, err := db.UnreferencedHashes(ctx, tx, userID, candidates)
	if err != nil {
		return DeleteTracksResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return DeleteTracksResult{}, err
	}
	return DeleteTracksResult{Deleted: tag.RowsAffected(), HashesFreed: freed}, nil
}

func buildUpdateClause(updates map[string]any) (sets []string, args []any) {
	next := 4 // $1..$3 are id(s), map_id, user_id
	if name, ok := updates["name"]; ok {
		sets = append(sets, fmt.Sprintf("name=$%d", next))
		args = append(args, name)
		next++
	}
	if activityType, ok := updates["activity_type"]; ok {
		sets = append(sets, fmt.Sprintf("activity_type=$%d", next))
		args = append(args, activityType)
		next++
	}
	if visible, ok := updates["visible"]; ok {
		sets = append(sets, fmt.Sprintf("visible=$%d", next))
		args = append(args, visible)
		next++
	}
	return sets, args
}

func scanTrack(row pgx.Row) (Track, error) {
	var t Track
	err := row.Scan(&t.ID, &t.UserID, &t.MapID, &t.Hash, &t.Name, &t.Filename, &t.Creator, &t.ActivityType,
		&t.ActivityDate, &t.UploadedAt, &t.DistanceMeters, &t.DurationSeconds,
		&t.AvgSpeedMs, &t.MaxSpeedMs, &t.MinSpeedMs,
		&t.ElevationGainMeters, &t.ElevationLossMeters,
		&t.BoundsMinLat, &t.BoundsMaxLat, &t.BoundsMinLon, &t.BoundsMaxLon,
		&t.Visible, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Track{}, err
	}
	return t, nil
}

func scanGeometry(row pgx.Row) (Geometry, error) {
	var g Geometry
	var coordsJSON, speedsJSON []byte
	if err := row.Scan(&g.TrackID, &coordsJSON, &speedsJSON); err != nil {
		return Geometry{}, err
	}
	if err := json.Unmarshal(coordsJSON, &g.Coordinates); err != nil {
		return Geometry{}, err
	}
	if len(speedsJSON) > 0 {
		if err := json.Unmarshal(speedsJSON, &g.SegmentSpeeds); err != nil {
			return Geometry{}, err
		}
	}
	return g, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
