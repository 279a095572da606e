package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

// Compile-time check that SQLiteStore implements APIKeyRepo.
var _ APIKeyRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) InsertAPIKey(ctx context.Context, key models.ApiKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, label, plan, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.Label, key.Plan, key.IsActive, nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("insert api key failed: %w", err)
	}
	slog.Debug("SQLiteStore.InsertAPIKey", "id", key.ID, "label", key.Label)
	return nil
}

func (s *SQLiteStore) FindActiveAPIKeyByHash(ctx context.Context, keyHash string) (*models.ApiKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_hash, label, plan, is_active, created_at, last_used_at
		 FROM api_keys WHERE key_hash = ? AND is_active = 1`,
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

func (s *SQLiteStore) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touch api key failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeactivateAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deactivate api key failed: %w", err)
	}
	slog.Info("SQLiteStore.DeactivateAPIKey", "id", id)
	return nil
}
