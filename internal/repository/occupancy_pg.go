package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"livekitchen/internal/domain"
)

type OccupancyPG struct {
	db *pgxpool.Pool
}

func NewOccupancyPG(db *pgxpool.Pool) *OccupancyPG { return &OccupancyPG{db: db} }

func (r *OccupancyPG) Upsert(ctx context.Context, occ domain.TableOccupancy) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO table_occupancy (customer_id, restaurant_id, table_number, joined_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (customer_id) DO UPDATE SET
		  restaurant_id = EXCLUDED.restaurant_id,
		  table_number  = EXCLUDED.table_number,
		  joined_at     = EXCLUDED.joined_at
	`, occ.CustomerID, occ.RestaurantID, occ.TableNumber, occ.JoinedAt)
	if err != nil {
		return fmt.Errorf("upsert occupancy: %w", err)
	}
	return nil
}

func (r *OccupancyPG) Get(ctx context.Context, customerID string) (domain.TableOccupancy, error) {
	var occ domain.TableOccupancy
	err := r.db.QueryRow(ctx, `
		SELECT customer_id, restaurant_id, table_number, joined_at
		FROM table_occupancy WHERE customer_id=$1
	`, customerID).Scan(&occ.CustomerID, &occ.RestaurantID, &occ.TableNumber, &occ.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TableOccupancy{}, fmt.Errorf("occupancy for %s: %w", customerID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TableOccupancy{}, fmt.Errorf("get occupancy: %w", err)
	}
	return occ, nil
}

func (r *OccupancyPG) Delete(ctx context.Context, customerID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM table_occupancy WHERE customer_id=$1`, customerID)
	if err != nil {
		return false, fmt.Errorf("delete occupancy: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
