package service

import (
	"context"
	"log"
	"strings"

	apperrors "github.com/holder-rounds/internal/errors"
	"github.com/holder-rounds/internal/models"
	"github.com/holder-rounds/internal/types"
)

// ConfigService validates and stores dynamic settings
type ConfigService struct {
	store ConfigStore
}

// NewConfigService creates a new config service
func NewConfigService(store ConfigStore) *ConfigService {
	return &ConfigService{store: store}
}

// Set stores value under key. Only the known keys are accepted and
// token_address must be a well formed address.
func (s *ConfigService) Set(ctx context.Context, key, value string) (*models.ConfigEntry, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	if key == "" {
		return nil, apperrors.NewValidationError("MISSING_FIELDS", "key and value are required")
	}
	if !types.IsAllowedConfigKey(key) {
		return nil, apperrors.NewInvalidParameterError("key", "unknown config key")
	}

	switch types.ConfigKey(key) {
	case types.ConfigTokenAddress:
		if !types.IsValidAddress(value) {
			return nil, apperrors.NewInvalidAddressError(value)
		}
		value = types.NormalizeAddress(value)
	case types.ConfigFeePoolTotal:
		if value == "" {
			return nil, apperrors.NewValidationError("MISSING_FIELDS", "key and value are required")
		}
	}

	if err := s.store.Set(ctx, key, value); err != nil {
		return nil, err
	}

	log.Printf("[ConfigService] %s updated", key)
	return &models.ConfigEntry{Key: key, Value: value}, nil
}

// Get returns the value for key and whether it is set
func (s *ConfigService) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.Get(ctx, key)
}

// All returns every stored setting as a map
func (s *ConfigService) All(ctx context.Context) (map[string]string, error) {
	entries, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}
