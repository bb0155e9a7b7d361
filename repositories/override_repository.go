package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
)

var ErrOverrideNotFound = errors.New("override not found")

type OverrideRepository interface {
	// Upsert overwrites any prior override for the same owner.
	Upsert(ctx context.Context, override *models.Override) error
	Get(ctx context.Context, ownerID models.OwnerID) (*models.Override, error)
	// Delete does not fail when there is nothing to delete.
	Delete(ctx context.Context, ownerID models.OwnerID) error
	List(ctx context.Context) ([]models.Override, error)
}

type postgresOverrideRepository struct {
	db *sql.DB
}

func NewPostgresOverrideRepository(db *sql.DB) OverrideRepository {
	return &postgresOverrideRepository{db: db}
}

func (r *postgresOverrideRepository) Upsert(ctx context.Context, override *models.Override) error {
	if override.SetAt.IsZero() {
		override.SetAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO score_overrides (owner_id, total, set_by, set_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET total = EXCLUDED.total, set_by = EXCLUDED.set_by, set_at = EXCLUDED.set_at`,
		int64(override.OwnerID), override.Total, int64(override.SetBy), override.SetAt,
	)
	return err
}

func scanOverride(rowScanner interface{ Scan(...interface{}) error }) (*models.Override, error) {
	var (
		o              models.Override
		ownerID, setBy int64
	)
	if err := rowScanner.Scan(&ownerID, &o.Total, &setBy, &o.SetAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOverrideNotFound
		}
		return nil, err
	}
	o.OwnerID = models.OwnerID(ownerID)
	o.SetBy = models.OwnerID(setBy)
	return &o, nil
}

func (r *postgresOverrideRepository) Get(ctx context.Context, ownerID models.OwnerID) (*models.Override, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT owner_id, total, set_by, set_at FROM score_overrides WHERE owner_id = $1`, int64(ownerID))
	return scanOverride(row)
}

func (r *postgresOverrideRepository) Delete(ctx context.Context, ownerID models.OwnerID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM score_overrides WHERE owner_id = $1`, int64(ownerID))
	return err
}

func (r *postgresOverrideRepository) List(ctx context.Context) ([]models.Override, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT owner_id, total, set_by, set_at FROM score_overrides ORDER BY owner_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make([]models.Override, 0)
	for rows.Next() {
		o, errScan := scanOverride(rows)
		if errScan != nil {
			return nil, errScan
		}
		overrides = append(overrides, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return overrides, nil
}
