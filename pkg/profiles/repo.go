package profiles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kisanmandi/pkg/apperr"
)

//go:generate mockgen -destination=./mock_profiles_repo.go -package=profiles . Directory

// Directory is the Account/Profile collaborator.
type Directory interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
	// GetProfiles returns the profiles that exist among ids, keyed by id.
	GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error)
}

type postgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) Directory {
	return &postgresDirectory{pool: pool}
}

const selectProfile = `SELECT id::text, full_name, COALESCE(email, ''), role, avatar_url, district, state FROM user_profiles`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &p.Role, &p.AvatarURL, &p.District, &p.State)
	return p, err
}

func (r *postgresDirectory) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, selectProfile+` WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, apperr.NotFound("profile")
		}
		return Profile{}, apperr.Transient("load profile", err)
	}
	return p, nil
}

func (r *postgresDirectory) GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, selectProfile+` WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, apperr.Transient("load profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, apperr.Transient("scan profile", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate profiles", err)
	}
	return out, nil
}

// Static is an in-memory Directory for tests and single-binary demos.
type Static map[string]Profile

func (s Static) GetProfile(_ context.Context, userID string) (Profile, error) {
	p, ok := s[userID]
	if !ok {
		return Profile{}, apperr.NotFound("profile")
	}
	return p, nil
}

func (s Static) GetProfiles(_ context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	for _, id := range ids {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
