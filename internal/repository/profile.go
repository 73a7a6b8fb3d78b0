package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tapon/qrengine/internal/model"
)

// ErrProfileNotFound is returned when no profile has the requested ID.
var ErrProfileNotFound = errors.New("profile not found")

// GetProfile retrieves a profile projection by ID.
func (r *Repository) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	query := `SELECT id, owner_id, username FROM profiles WHERE id = $1`

	var p model.Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.OwnerID, &p.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile writes a profile projection, as reported when a profile is
// created or renamed.
func (r *Repository) UpsertProfile(ctx context.Context, p *model.Profile) error {
	query := `
		INSERT INTO profiles (id, owner_id, username)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			username = EXCLUDED.username,
			updated_at = NOW()
	`
	if _, err := r.pool.Exec(ctx, query, p.ID, p.OwnerID, p.Username); err != nil {
		if sqlState(err) == codeUniqueViolation {
			return fmt.Errorf("username %q already taken: %w", p.Username, err)
		}
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
