package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dtroode/membergate/internal/model"
)

var _ model.IdentifierStore = (*IdentifierRepository)(nil)

type IdentifierRepository struct {
	db *Connection
}

func NewIdentifierRepository(db *Connection) *IdentifierRepository {
	return &IdentifierRepository{
		db: db,
	}
}

const identifierColumns = `id, account_id, value, status, created_at, expires_at`

func scanIdentifier(row rowScanner) (model.Identifier, error) {
	var ident model.Identifier
	err := row.Scan(&ident.ID, &ident.AccountID, &ident.Value, &ident.Status, &ident.CreatedAt, &ident.ExpiresAt)
	return ident, err
}

// AddIdentifier inserts an active identifier for an active account. The account
// row is locked first so the eligibility check and the insert cannot interleave
// with a concurrent status transition.
func (r *IdentifierRepository) AddIdentifier(ctx context.Context, accountID int64, value string) (model.Identifier, error) {
	var ident model.Identifier

	err := withTxRetry(ctx, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var status model.AccountStatus
		err = tx.QueryRow(ctx, `SELECT status FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNotFound
			}
			return fmt.Errorf("failed to lock account: %w", err)
		}

		if status != model.AccountActive {
			return model.ErrNotEligible
		}

		query := `INSERT INTO identifiers (account_id, value) VALUES ($1, $2) RETURNING ` + identifierColumns
		ident, err = scanIdentifier(tx.QueryRow(ctx, query, accountID, value))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return model.ErrDuplicateIdentifier
			}
			return fmt.Errorf("failed to insert identifier: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Identifier{}, err
	}

	return ident, nil
}

func (r *IdentifierRepository) ListIdentifiers(ctx context.Context, accountID int64, statusFilter model.IdentifierStatus) ([]model.Identifier, error) {
	query := `SELECT ` + identifierColumns + ` FROM identifiers WHERE account_id = $1`
	args := []any{accountID}
	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}
	defer rows.Close()

	var idents []model.Identifier
	for rows.Next() {
		ident, err := scanIdentifier(rows)
		if err != nil {
			return nil, err
		}
		idents = append(idents, ident)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return idents, nil
}

func (r *IdentifierRepository) CountIdentifiers(ctx context.Context, accountID int64, statusFilter model.IdentifierStatus) (int, error) {
	query := `SELECT COUNT(*) FROM identifiers WHERE account_id = $1`
	args := []any{accountID}
	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count identifiers: %w", err)
	}

	return count, nil
}

func (r *IdentifierRepository) ListActiveValues(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT value FROM identifiers WHERE status = 'active' ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active identifier values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return values, nil
}
