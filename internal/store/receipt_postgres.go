package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Compile-time check that PostgresStore implements ReceiptRepo.
var _ ReceiptRepo = (*PostgresStore)(nil)

func (s *PostgresStore) RecordIfFirst(ctx context.Context, provider, eventID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (provider, event_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID, nowUTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record receipt failed: %w: %v", ErrUnavailable, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("receipt rows affected check failed: %w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.RecordIfFirst: duplicate receipt", "provider", provider, "eventID", eventID)
		return false, nil
	}
	return true, nil
}
