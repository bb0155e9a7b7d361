package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/lib/pq"
)

var (
	ErrAccountNotFound = errors.New("linked account not found")
	ErrAccountConflict = errors.New("account name is already linked")
)

// AccountRepository хранит привязки аккаунтов и их ScoreRecord.
type AccountRepository interface {
	// Create inserts the account together with an Unknown score record.
	Create(ctx context.Context, account *models.Account) error
	GetByName(ctx context.Context, name string) (*models.Account, error)
	ListByOwner(ctx context.Context, ownerID models.OwnerID) ([]models.Account, error)
	ListAll(ctx context.Context) ([]models.Account, error)
	// Update rewrites the account stored under oldName; the score record follows a rename.
	Update(ctx context.Context, oldName string, account *models.Account) error
	// Delete removes the account and its score record.
	Delete(ctx context.Context, name string) error

	GetScore(ctx context.Context, name string) (*models.ScoreRecord, error)
	SaveScore(ctx context.Context, record models.ScoreRecord) error
	ListScores(ctx context.Context) ([]models.ScoreRecord, error)
}

type postgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) AccountRepository {
	return &postgresAccountRepository{db: db}
}

func (r *postgresAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.LinkedAt.IsZero() {
		account.LinkedAt = time.Now().UTC()
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO linked_accounts (username_key, username, owner_id, account_type, emoji, linked_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			account.Key(), account.Name, int64(account.OwnerID), account.Type, account.Emoji, account.LinkedAt,
		)
		if err != nil {
			return mapAccountWriteError(err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO score_records (username_key, total, hiscore_rank, below_threshold, observed_at, status)
			VALUES ($1, 0, -1, FALSE, NULL, $2)`,
			account.Key(), models.ScoreUnknown,
		)
		if err != nil {
			return fmt.Errorf("failed to create score record for %s: %w", account.Name, err)
		}
		return nil
	})
}

func mapAccountWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return ErrAccountConflict
	}
	return err
}

const accountColumns = `username, owner_id, account_type, emoji, linked_at`

func scanAccount(rowScanner interface{ Scan(...interface{}) error }) (*models.Account, error) {
	var (
		a       models.Account
		ownerID int64
		emoji   sql.NullString
	)
	if err := rowScanner.Scan(&a.Name, &ownerID, &a.Type, &emoji, &a.LinkedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	a.OwnerID = models.OwnerID(ownerID)
	if emoji.Valid {
		a.Emoji = &emoji.String
	}
	return &a, nil
}

func (r *postgresAccountRepository) GetByName(ctx context.Context, name string) (*models.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE username_key = $1`, models.NameKey(name))
	return scanAccount(row)
}

func (r *postgresAccountRepository) ListByOwner(ctx context.Context, ownerID models.OwnerID) ([]models.Account, error) {
	return r.list(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts WHERE owner_id = $1 ORDER BY linked_at ASC, username_key ASC`,
		int64(ownerID))
}

func (r *postgresAccountRepository) ListAll(ctx context.Context) ([]models.Account, error) {
	return r.list(ctx,
		`SELECT `+accountColumns+` FROM linked_accounts ORDER BY linked_at ASC, username_key ASC`)
}

func (r *postgresAccountRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]models.Account, 0)
	for rows.Next() {
		a, errScan := scanAccount(rows)
		if errScan != nil {
			return nil, errScan
		}
		accounts = append(accounts, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *postgresAccountRepository) Update(ctx context.Context, oldName string, account *models.Account) error {
	// score_records.username_key ссылается с ON UPDATE CASCADE, поэтому переименование переносит и счёт
	result, err := r.db.ExecContext(ctx, `
		UPDATE linked_accounts SET
			username_key = $1,
			username = $2,
			account_type = $3,
			emoji = $4
		WHERE username_key = $5`,
		account.Key(), account.Name, account.Type, account.Emoji, models.NameKey(oldName),
	)
	if err != nil {
		return mapAccountWriteError(err)
	}
	return checkAffectedRows(result, ErrAccountNotFound)
}

func (r *postgresAccountRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM linked_accounts WHERE username_key = $1`, models.NameKey(name))
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrAccountNotFound)
}

const scoreSelect = `
	SELECT a.username, s.total, s.hiscore_rank, s.below_threshold, s.observed_at, s.status
	FROM score_records s
	JOIN linked_accounts a ON a.username_key = s.username_key`

func scanScore(rowScanner interface{ Scan(...interface{}) error }) (*models.ScoreRecord, error) {
	var (
		rec        models.ScoreRecord
		observedAt sql.NullTime
	)
	err := rowScanner.Scan(&rec.AccountName, &rec.Total, &rec.HiscoreRank, &rec.BelowThreshold, &observedAt, &rec.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if observedAt.Valid {
		t := observedAt.Time
		rec.ObservedAt = &t
	}
	return &rec, nil
}

func (r *postgresAccountRepository) GetScore(ctx context.Context, name string) (*models.ScoreRecord, error) {
	row := r.db.QueryRowContext(ctx, scoreSelect+` WHERE s.username_key = $1`, models.NameKey(name))
	return scanScore(row)
}

func (r *postgresAccountRepository) SaveScore(ctx context.Context, record models.ScoreRecord) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE score_records SET
			total = $1,
			hiscore_rank = $2,
			below_threshold = $3,
			observed_at = $4,
			status = $5
		WHERE username_key = $6`,
		record.Total, record.HiscoreRank, record.BelowThreshold, record.ObservedAt, record.Status,
		models.NameKey(record.AccountName),
	)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrAccountNotFound)
}

func (r *postgresAccountRepository) ListScores(ctx context.Context) ([]models.ScoreRecord, error) {
	rows, err := r.db.QueryContext(ctx, scoreSelect+` ORDER BY s.username_key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.ScoreRecord, 0)
	for rows.Next() {
		rec, errScan := scanScore(rows)
		if errScan != nil {
			return nil, errScan
		}
		records = append(records, *rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
