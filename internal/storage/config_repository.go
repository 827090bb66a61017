package storage

import (
	"context"
	"errors"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/jackc/pgx/v5"
)

// ConfigRepository is the dynamic key/value settings store
type ConfigRepository struct {
	db *PostgresDB
}

// NewConfigRepository creates a new config repository
func NewConfigRepository(db *PostgresDB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Get returns the value for key and whether it exists
func (r *ConfigRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.Pool().QueryRow(ctx, `SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, apperrors.NewStoreError("get config", err)
	}
	return value, true, nil
}

// Set upserts key
func (r *ConfigRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	if err != nil {
		return apperrors.NewStoreError("set config", err)
	}
	return nil
}

// All returns every stored entry ordered by key
func (r *ConfigRepository) All(ctx context.Context) ([]models.ConfigEntry, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT key, value, updated_at FROM config ORDER BY key`)
	if err != nil {
		return nil, apperrors.NewStoreError("list config", err)
	}
	defer rows.Close()

	entries := []models.ConfigEntry{}
	for rows.Next() {
		var e models.ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, apperrors.NewStoreError("scan config", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("iterate config", err)
	}
	return entries, nil
}
