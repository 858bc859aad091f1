package maps

import (
	"context"
	"errors"
	"strings"

	"backend-trailmap/internal/db"
	"backend-trailmap/internal/locks"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const maxNameLength = 100

var (
	ErrInvalidName = errors.New("map name must be 1-100 characters")
	ErrLastMap     = errors.New("cannot delete the last map")
)

var allowedUpdateFields = map[string]struct{}{"name": {}}

type Service struct {
	db    db.Querier
	locks *locks.Registry
}

func NewService(db db.Querier, locks *locks.Registry) *Service {
	return &Service{db: db, locks: locks}
}

func (s *Service) CreateMap(ctx context.Context, name, userID string) (Map, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return Map{}, ErrInvalidName
	}

	m := Map{ID: uuid.NewString(), UserID: userID, Name: name}
	row := s.db.QueryRow(ctx, `
		INSERT INTO maps (id, user_id, name)
		VALUES ($1,$2,$3)
		RETURNING created_at, updated_at
	`, m.ID, m.UserID, m.Name)
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return Map{}, err
	}
	return m, nil
}

// GetMap returns pgx.ErrNoRows both for missing maps and maps owned by
// someone else, so callers cannot tell the two apart.
func (s *Service) GetMap(ctx context.Context, mapID, userID string) (Map, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, created_at, updated_at
		FROM maps WHERE id=$1 AND user_id=$2
	`, mapID, userID)
	var m Map
	if err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Map{}, err
	}
	return m, nil
}

func (s *Service) ListMaps(ctx context.Context, userID string) ([]Map, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, name, created_at, updated_at
		FROM maps WHERE user_id=$1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Map
	for rows.Next() {
		var m Map
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

// UpdateMap applies the allow-listed subset of updates. Unknown fields are
// dropped silently; an update without any permitted field is a plain read.
func (s *Service) UpdateMap(ctx context.Context, mapID, userID string, updates map[string]any) (Map, error) {
	allowed := map[string]any{}
	for key, value := range updates {
		if _, ok := allowedUpdateFields[key]; ok {
			allowed[key] = value
		}
	}
	if len(allowed) == 0 {
		return s.GetMap(ctx, mapID, userID)
	}

	name, _ := allowed["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return Map{}, ErrInvalidName
	}

	row := s.db.QueryRow(ctx, `
		UPDATE maps SET name=$3, updated_at=now()
		WHERE id=$1 AND user_id=$2
		RETURNING id, user_id, name, created_at, updated_at
	`, mapID, userID, name)
	var m Map
	if err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Map{}, err
	}
	return m, nil
}

// DeleteMap removes a map with all its tracks in one transaction and
// reports which blob hashes are no longer referenced by any of the user's
// remaining tracks. The whole operation is serialized per user so a
// concurrent upload cannot race the liveness computation.
func (s *Service) DeleteMap(ctx context.Context, mapID, userID string) (DeleteResult, error) {
	unlock := s.locks.Acquire(userID)
	defer unlock()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return DeleteResult{}, err
	}
	defer tx.Rollback(ctx)

	var mapCount int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM maps WHERE user_id=$1`, userID).Scan(&mapCount); err != nil {
		return DeleteResult{}, err
	}
	if mapCount <= 1 {
		return DeleteResult{}, ErrLastMap
	}

	rows, err := tx.Query(ctx, `SELECT id, hash FROM tracks WHERE map_id=$1 AND user_id=$2`, mapID, userID)
	if err != nil {
		return DeleteResult{}, err
	}
	var trackIDs, candidateHashes []string
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			rows.Close()
			return DeleteResult{}, err
		}
		trackIDs = append(trackIDs, id)
		candidateHashes = append(candidateHashes, hash)
	}
	rows.Close()

	if _, err := tx.Exec(ctx, `DELETE FROM tracks WHERE map_id=$1 AND user_id=$2`, mapID, userID); err != nil {
		return DeleteResult{}, err
	}

	hashesFreed, err := db.UnreferencedHashes(ctx, tx, userID, candidateHashes)
	if err != nil {
		return DeleteResult{}, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM maps WHERE id=$1 AND user_id=$2`, mapID, userID)
	if err != nil {
		return DeleteResult{}, err
	}
	if tag.RowsAffected() == 0 {
		return DeleteResult{}, pgx.ErrNoRows
	}

	if err := tx.Commit(ctx); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: true, TrackIDs: trackIDs, HashesFreed: hashesFreed}, nil
}

// EnsureDefaultMap returns the user's first map, creating "My Map" lazily
// so account creation never needs an explicit map-creation step.
func (s *Service) EnsureDefaultMap(ctx context.Context, userID string) (Map, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, created_at, updated_at
		FROM maps WHERE user_id=$1
		ORDER BY name LIMIT 1
	`, userID)
	var m Map
	err := row.Scan(&m.ID, &m.UserID, &m.Name, &m.CreatedAt, &m.UpdatedAt)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Map{}, err
	}
	return s.CreateMap(ctx, "My Map", userID)
}
