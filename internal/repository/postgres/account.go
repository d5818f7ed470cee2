package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dtroode/membergate/internal/model"
)

var _ model.AccountStore = (*AccountRepository)(nil)

type AccountRepository struct {
	db *Connection
}

func NewAccountRepository(db *Connection) *AccountRepository {
	return &AccountRepository{
		db: db,
	}
}

const accountColumns = `id, status, strikes, suspended_until, last_checked_at, last_notified_status, display_name, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var account model.Account
	err := row.Scan(
		&account.ID, &account.Status, &account.Strikes, &account.SuspendedUntil,
		&account.LastCheckedAt, &account.LastNotifiedStatus, &account.DisplayName,
		&account.CreatedAt, &account.UpdatedAt,
	)
	return account, err
}

func (r *AccountRepository) EnsureAccount(ctx context.Context, id int64, displayName string) (model.Account, error) {
	query := `INSERT INTO accounts (id, display_name)
			  VALUES ($1, $2)
			  ON CONFLICT (id) DO UPDATE SET
				display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE accounts.display_name END,
				updated_at = NOW()
			  RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query, id, displayName))
	if err != nil {
		return model.Account{}, fmt.Errorf("failed to ensure account: %w", err)
	}

	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, model.ErrNotFound
		}
		return model.Account{}, fmt.Errorf("failed to get account by id: %w", err)
	}

	return account, nil
}

// ListForReconciliation returns accounts due for a membership re-check, the
// least recently checked first, so failed checks do not tighten the cadence.
func (r *AccountRepository) ListForReconciliation(ctx context.Context, limit int) ([]model.Account, error) {
	query := `SELECT ` + accountColumns + `
			  FROM accounts
			  WHERE status IN ('active', 'warned', 'suspended')
			  ORDER BY last_checked_at ASC
			  LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for reconciliation: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

// TransitionAccount applies one status change atomically: the account row is
// locked, the status fields are written, the identifier cascade runs, and for
// deletions the removal log row is appended before the purge. Conflicting
// transitions for the same account serialize on the row lock.
func (r *AccountRepository) TransitionAccount(ctx context.Context, id int64, newStatus model.AccountStatus, reason model.RemovalReason, opts model.TransitionOpts) (model.Account, error) {
	var account model.Account

	err := withTxRetry(ctx, func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var current model.AccountStatus
		err = tx.QueryRow(ctx, `SELECT status FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNotFound
			}
			return fmt.Errorf("failed to lock account: %w", err)
		}

		switch newStatus {
		case model.AccountActive:
			_, err = tx.Exec(ctx, `UPDATE accounts SET status = 'active', strikes = 0, suspended_until = NULL, updated_at = NOW() WHERE id = $1`, id)
			if err != nil {
				return fmt.Errorf("failed to activate account: %w", err)
			}
			_, err = tx.Exec(ctx, `UPDATE identifiers SET status = 'active' WHERE account_id = $1 AND status = 'suspended'`, id)
			if err != nil {
				return fmt.Errorf("failed to restore identifiers: %w", err)
			}

		case model.AccountWarned:
			_, err = tx.Exec(ctx, `UPDATE accounts SET status = 'warned', strikes = $2, updated_at = NOW() WHERE id = $1`, id, opts.Strikes)
			if err != nil {
				return fmt.Errorf("failed to warn account: %w", err)
			}

		case model.AccountSuspended:
			_, err = tx.Exec(ctx, `UPDATE accounts SET status = 'suspended', strikes = $2, suspended_until = $3, updated_at = NOW() WHERE id = $1`,
				id, opts.Strikes, opts.SuspendedUntil)
			if err != nil {
				return fmt.Errorf("failed to suspend account: %w", err)
			}
			_, err = tx.Exec(ctx, `UPDATE identifiers SET status = 'suspended' WHERE account_id = $1 AND status = 'active'`, id)
			if err != nil {
				return fmt.Errorf("failed to suspend identifiers: %w", err)
			}

		case model.AccountDeleted:
			var count int
			err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM identifiers WHERE account_id = $1 AND status <> 'removed'`, id).Scan(&count)
			if err != nil {
				return fmt.Errorf("failed to count identifiers: %w", err)
			}
			// Audit row goes in before the purge so a crash mid-deletion
			// cannot leave purged identifiers without a trail.
			_, err = tx.Exec(ctx, `INSERT INTO removal_log (id, account_id, reason, ids_removed) VALUES ($1, $2, $3, $4)`,
				uuid.New(), id, string(reason), count)
			if err != nil {
				return fmt.Errorf("failed to write removal log: %w", err)
			}
			_, err = tx.Exec(ctx, `DELETE FROM identifiers WHERE account_id = $1`, id)
			if err != nil {
				return fmt.Errorf("failed to purge identifiers: %w", err)
			}
			_, err = tx.Exec(ctx, `UPDATE accounts SET status = 'deleted', suspended_until = NULL, updated_at = NOW() WHERE id = $1`, id)
			if err != nil {
				return fmt.Errorf("failed to mark account deleted: %w", err)
			}

		default:
			return fmt.Errorf("%w: unknown account status %q", model.ErrValidation, newStatus)
		}

		account, err = scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
		if err != nil {
			return fmt.Errorf("failed to reload account: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Account{}, err
	}

	return account, nil
}

func (r *AccountRepository) TouchChecked(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET last_checked_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch account: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) SetNotifiedStatus(ctx context.Context, id int64, status model.AccountStatus) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET last_notified_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set notified status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}
