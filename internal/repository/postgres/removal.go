package postgres

import (
	"context"
	"fmt"

	"github.com/dtroode/membergate/internal/model"
)

var _ model.RemovalStore = (*RemovalRepository)(nil)

type RemovalRepository struct {
	db *Connection
}

func NewRemovalRepository(db *Connection) *RemovalRepository {
	return &RemovalRepository{
		db: db,
	}
}

func (r *RemovalRepository) ListByAccount(ctx context.Context, accountID int64) ([]model.RemovalRecord, error) {
	query := `SELECT id, account_id, reason, ids_removed, created_at
			  FROM removal_log WHERE account_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list removal records: %w", err)
	}
	defer rows.Close()

	var records []model.RemovalRecord
	for rows.Next() {
		var record model.RemovalRecord
		if err := rows.Scan(&record.ID, &record.AccountID, &record.Reason, &record.IDsRemoved, &record.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
