package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"livraison/internal/domain"
	"livraison/internal/errors"
)

const restaurantColumns = `
	id, name, owner_user_id, commission_rate_percent, manually_closed,
	prep_time_minutes_default, prep_time_updated_at, timezone, latitude, longitude,
	created_at, updated_at`

type MySQLRestaurantRepository struct {
	db *sql.DB
}

func NewMySQLRestaurantRepository(db *sql.DB) *MySQLRestaurantRepository {
	return &MySQLRestaurantRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRestaurant(row rowScanner) (*domain.Restaurant, error) {
	var (
		r              domain.Restaurant
		commission     decimal.NullDecimal
		manuallyClosed sql.NullString
		prepUpdatedAt  sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.OwnerUserID, &commission, &manuallyClosed,
		&r.PrepTimeMinutesDefault, &prepUpdatedAt, &r.Timezone, &r.Latitude, &r.Longitude,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if commission.Valid {
		rate := commission.Decimal
		r.CommissionRatePercent = &rate
	}
	// Legacy rows hold "true", "1", "" or NULL.
	if manuallyClosed.Valid {
		r.ManuallyClosed = domain.NormalizeManuallyClosed(manuallyClosed.String)
	}
	if prepUpdatedAt.Valid {
		at := prepUpdatedAt.Time
		r.PrepTimeUpdatedAt = &at
	}
	return &r, nil
}

func (r *MySQLRestaurantRepository) FindByID(ctx context.Context, id string) (*domain.Restaurant, error) {
	query := `SELECT ` + restaurantColumns + ` FROM restaurants WHERE id = ?`

	restaurant, err := scanRestaurant(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(fmt.Sprintf("restaurant %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("querying restaurant by id: %w", err)
	}
	return restaurant, nil
}

// ListOpen returns restaurants not manually closed.
func (r *MySQLRestaurantRepository) ListOpen(ctx context.Context) ([]domain.Restaurant, error) {
	query := `SELECT ` + restaurantColumns + ` FROM restaurants ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying restaurants: %w", err)
	}
	defer rows.Close()

	var restaurants []domain.Restaurant
	for rows.Next() {
		restaurant, err := scanRestaurant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning restaurant row: %w", err)
		}
		// Filtered here: the column mixes encodings SQL cannot compare reliably.
		if restaurant.ManuallyClosed {
			continue
		}
		restaurants = append(restaurants, *restaurant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating restaurant rows: %w", err)
	}
	return restaurants, nil
}

func (r *MySQLRestaurantRepository) Insert(ctx context.Context, restaurant domain.Restaurant) error {
	query := `INSERT INTO restaurants (` + restaurantColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var commission any
	if restaurant.CommissionRatePercent != nil {
		commission = *restaurant.CommissionRatePercent
	}
	var prepUpdatedAt any
	if restaurant.PrepTimeUpdatedAt != nil {
		prepUpdatedAt = *restaurant.PrepTimeUpdatedAt
	}
	timezone := restaurant.Timezone
	if timezone == "" {
		timezone = domain.DefaultRestaurantTimezone
	}

	_, err := r.db.ExecContext(ctx, query,
		restaurant.ID, restaurant.Name, restaurant.OwnerUserID, commission, closedValue(restaurant.ManuallyClosed),
		restaurant.PrepTimeMinutesDefault, prepUpdatedAt, timezone, restaurant.Latitude, restaurant.Longitude,
		restaurant.CreatedAt, restaurant.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting restaurant: %w", err)
	}
	return nil
}

func (r *MySQLRestaurantRepository) SetManuallyClosed(ctx context.Context, id string, closed bool, at time.Time) error {
	query := `UPDATE restaurants SET manually_closed = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, id, query, closedValue(closed), at, id)
}

func (r *MySQLRestaurantRepository) UpdatePrepTime(ctx context.Context, id string, minutes int, at time.Time) error {
	query := `UPDATE restaurants SET prep_time_minutes_default = ?, prep_time_updated_at = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, id, query, minutes, at, at, id)
}

func (r *MySQLRestaurantRepository) execOne(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating restaurant: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError(fmt.Sprintf("restaurant %s not found", id))
	}
	return nil
}

// closedValue writes the canonical form; reads still accept legacy ones.
func closedValue(closed bool) string {
	if closed {
		return "true"
	}
	return "false"
}
