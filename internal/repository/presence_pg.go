package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"livekitchen/internal/domain"
)

type PresencePG struct {
	db *pgxpool.Pool
}

func NewPresencePG(db *pgxpool.Pool) *PresencePG { return &PresencePG{db: db} }

func (r *PresencePG) Add(ctx context.Context, connectionID string, id domain.Identity) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO connections (connection_id, user_id, role, connected_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (connection_id) DO UPDATE SET
		  user_id = EXCLUDED.user_id,
		  role    = EXCLUDED.role
	`, connectionID, id.UserID, string(id.Role))
	if err != nil {
		return fmt.Errorf("add presence: %w", err)
	}
	return nil
}

func (r *PresencePG) Remove(ctx context.Context, connectionID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM connections WHERE connection_id=$1`, connectionID); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

func (r *PresencePG) All(ctx context.Context) (map[string]domain.Identity, error) {
	rows, err := r.db.Query(ctx, `SELECT connection_id, user_id, role FROM connections`)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Identity)
	for rows.Next() {
		var connID, userID, role string
		if err := rows.Scan(&connID, &userID, &role); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		out[connID] = domain.Identity{UserID: userID, Role: domain.Role(role)}
	}
	return out, rows.Err()
}
