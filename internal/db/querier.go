package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier represents the minimal database operations used by services.
// Both *pgxpool.Pool and pgxmock pools satisfy this interface.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UnreferencedHashes filters candidates down to those with no remaining
// track row for this user across any map. Must run inside the transaction
// that deleted the rows, otherwise a concurrent upload could resurrect a
// hash mid-computation.
func UnreferencedHashes(ctx context.Context, tx pgx.Tx, userID string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT DISTINCT hash FROM tracks
		WHERE user_id=$1 AND hash = ANY($2)
	`, userID, candidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stillUsed := map[string]struct{}{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		stillUsed[hash] = struct{}{}
	}

	seen := map[string]struct{}{}
	var freed []string
	for _, hash := range candidates {
		if _, used := stillUsed[hash]; used {
			continue
		}
		if _, dup := seen[hash]; dup {
			continue
		}
		seen[hash] = struct{}{}
		freed = append(freed, hash)
	}
	return freed, nil
}
