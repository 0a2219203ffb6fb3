package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadbook/roadbook/session"
)

// Postgres commits drive sessions to a Postgres table. The path and
// enrichment payloads are stored as jsonb; enrichment columns stay
// NULL until a sample or route summary exists.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Schema is the table the commit writes to; apply it with your
// migration tooling of choice.
const Schema = `
CREATE TABLE IF NOT EXISTS drive_sessions (
    id              text PRIMARY KEY,
    elapsed_seconds integer NOT NULL,
    path            jsonb NOT NULL,
    weather         jsonb,
    route           jsonb,
    vehicle         text,
    created_at      timestamptz NOT NULL,
    location_fix_at timestamptz NOT NULL,
    committed_at    timestamptz NOT NULL DEFAULT now()
);
`

// CommitDriveSession implements Backend. Re-committing the same id
// overwrites the previous row, so a retried reconciliation is safe.
func (p *Postgres) CommitDriveSession(ctx context.Context, s *session.DriveSession) error {
	path, err := json.Marshal(s.Path)
	if err != nil {
		return fmt.Errorf("encode path for %s: %w", s.ID, err)
	}

	var weather, route []byte
	if s.Weather != nil {
		if weather, err = json.Marshal(s.Weather); err != nil {
			return fmt.Errorf("encode weather for %s: %w", s.ID, err)
		}
	}
	if s.Route != nil {
		if route, err = json.Marshal(s.Route); err != nil {
			return fmt.Errorf("encode route for %s: %w", s.ID, err)
		}
	}

	vehicle := pgtype.Text{String: s.Vehicle, Valid: s.Vehicle != ""}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO drive_sessions
			(id, elapsed_seconds, path, weather, route, vehicle, created_at, location_fix_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			elapsed_seconds = EXCLUDED.elapsed_seconds,
			path            = EXCLUDED.path,
			weather         = EXCLUDED.weather,
			route           = EXCLUDED.route,
			vehicle         = EXCLUDED.vehicle`,
		s.ID, s.ElapsedSeconds, path, weather, route, vehicle,
		time.UnixMilli(s.CreatedAt), time.UnixMilli(s.LocationFixAt),
	)
	if err != nil {
		return fmt.Errorf("commit drive session %s: %w", s.ID, err)
	}
	return nil
}
