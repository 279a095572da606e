package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

// Compile-time check that PostgresStore implements ClaimRepo.
var _ ClaimRepo = (*PostgresStore)(nil)

func (s *PostgresStore) TryClaim(ctx context.Context, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_idempotency (idempotency_key, status, created_at) VALUES ($1, 'processing', $2) ON CONFLICT (idempotency_key) DO NOTHING`,
		key, nowUTC(),
	)
	if err != nil {
		return false, fmt.Errorf("try claim failed: %w: %v", ErrUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected check failed: %w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.TryClaim: key already claimed", "key", key)
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) MarkClaimDone(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE webhook_idempotency SET status = 'done', completed_at = $1 WHERE idempotency_key = $2`,
		nowUTC(), key,
	)
	if err != nil {
		return fmt.Errorf("mark claim done failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkClaimFailed(ctx context.Context, key string) error {
	// Conditioned on processing so a concurrent resolution is never clobbered.
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_idempotency SET status = 'failed', completed_at = $1 WHERE idempotency_key = $2 AND status = 'processing'`,
		nowUTC(), key,
	)
	if err != nil {
		return fmt.Errorf("mark claim failed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, key string) (*models.IdempotencyClaim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT idempotency_key, status, created_at, completed_at FROM webhook_idempotency WHERE idempotency_key = $1`,
		key,
	)
	c, err := scanClaimRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get claim failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx failed: %w", err)
	}
	return tx, nil
}
