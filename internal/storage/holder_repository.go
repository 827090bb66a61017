package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/jackc/pgx/v5"
)

// HolderRepository persists the current ranked holder snapshot
type HolderRepository struct {
	db *PostgresDB
}

// NewHolderRepository creates a new holder repository
func NewHolderRepository(db *PostgresDB) *HolderRepository {
	return &HolderRepository{db: db}
}

// ReplaceAll swaps the stored snapshot for holders inside one transaction.
// Readers observe either the previous or the new snapshot, never a mix.
func (r *HolderRepository) ReplaceAll(ctx context.Context, holders []models.HolderRecord) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewStoreError("begin holder replace", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM holders`); err != nil {
		return apperrors.NewStoreError("clear holders", err)
	}

	batch := &pgx.Batch{}
	for _, h := range holders {
		batch.Queue(`
			INSERT INTO holders (wallet_address, balance, rank, percentage, last_updated)
			VALUES ($1, $2::text::numeric, $3, $4, $5)
		`, strings.ToLower(h.Address), amountString(h.Balance), h.Rank, h.Percentage, h.LastUpdated)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return apperrors.NewStoreError("insert holders", err)
		}
	}
	if err := results.Close(); err != nil {
		return apperrors.NewStoreError("insert holders", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewStoreError("commit holder replace", err)
	}
	return nil
}

// GetTopN returns at most n holders ordered by rank ascending
func (r *HolderRepository) GetTopN(ctx context.Context, n int) ([]models.HolderRecord, error) {
	if n <= 0 {
		return []models.HolderRecord{}, nil
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT wallet_address, balance::text, rank, percentage, last_updated
		FROM holders
		ORDER BY rank ASC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, apperrors.NewStoreError("query top holders", err)
	}
	defer rows.Close()

	holders := make([]models.HolderRecord, 0, n)
	for rows.Next() {
		h, err := scanHolder(rows)
		if err != nil {
			return nil, err
		}
		holders = append(holders, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("iterate top holders", err)
	}
	return holders, nil
}

// GetByAddress returns the holder for address, or nil when it is not ranked
func (r *HolderRepository) GetByAddress(ctx context.Context, address string) (*models.HolderRecord, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT wallet_address, balance::text, rank, percentage, last_updated
		FROM holders
		WHERE wallet_address = $1
	`, strings.ToLower(address))

	h, err := scanHolder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return h, nil
}

// ClearAll removes every stored holder
func (r *HolderRepository) ClearAll(ctx context.Context) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM holders`); err != nil {
		return apperrors.NewStoreError("clear holders", err)
	}
	return nil
}

// Count returns the number of stored holders
func (r *HolderRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM holders`).Scan(&count); err != nil {
		return 0, apperrors.NewStoreError("count holders", err)
	}
	return count, nil
}

func scanHolder(row pgx.Row) (*models.HolderRecord, error) {
	var h models.HolderRecord
	var balance string
	var lastUpdated time.Time

	if err := row.Scan(&h.Address, &balance, &h.Rank, &h.Percentage, &lastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewStoreError("scan holder", err)
	}

	amount, err := parseAmount(balance)
	if err != nil {
		return nil, apperrors.NewStoreError("parse holder balance", err)
	}
	h.Balance = amount
	h.LastUpdated = lastUpdated
	return &h, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric amount %q", s)
	}
	return v, nil
}
