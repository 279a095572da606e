package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Compile-time check that SQLiteStore implements ReceiptRepo.
var _ ReceiptRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) RecordIfFirst(ctx context.Context, provider, eventID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO receipts (provider, event_id, received_at) VALUES (?, ?, ?)`,
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
		slog.Debug("SQLiteStore.RecordIfFirst: duplicate receipt", "provider", provider, "eventID", eventID)
		return false, nil
	}
	return true, nil
}
