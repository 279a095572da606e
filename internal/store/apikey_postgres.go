package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

// Compile-time check that PostgresStore implements APIKeyRepo.
var _ APIKeyRepo = (*PostgresStore)(nil)

func (s *PostgresStore) InsertAPIKey(ctx context.Context, key models.ApiKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, label, plan, is_active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.KeyHash, key.Label, key.Plan, key.IsActive, nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("insert api key failed: %w", err)
	}
	slog.Debug("PostgresStore.InsertAPIKey", "id", key.ID, "label", key.Label)
	return nil
}

func (s *PostgresStore) FindActiveAPIKeyByHash(ctx context.Context, keyHash string) (*models.ApiKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_hash, label, plan, is_active, created_at, last_used_at
		 FROM api_keys WHERE key_hash = $1 AND is_active = TRUE`,
		keyHash,
	)
	k, err := scanAPIKeyRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find api key failed: %w: %v", ErrUnavailable, err)
	}
	return &k, nil
}

func (s *PostgresStore) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`,
		nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touch api key failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeactivateAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = FALSE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deactivate api key failed: %w", err)
	}
	slog.Info("PostgresStore.DeactivateAPIKey", "id", id)
	return nil
}
