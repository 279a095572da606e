package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

// Compile-time check that SQLiteStore implements DeliveryRepo.
var _ DeliveryRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) EnqueueDelivery(ctx context.Context, provider, eventID, targetURL, payloadJSON string) error {
	now := nowUTC()
	// Insert-or-ignore: an existing job keeps its original payload.
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO delivery_jobs (provider, event_id, target_url, payload_json, status, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'pending', 0, ?, ?)`,
		provider, eventID, targetURL, nilIfEmpty(payloadJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue delivery failed: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		slog.Debug("SQLiteStore.EnqueueDelivery: job already exists", "provider", provider, "eventID", eventID)
	}
	return nil
}

func (s *SQLiteStore) ListPendingDeliveries(ctx context.Context, limit int) ([]models.DeliveryJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, event_id, target_url, payload_json, status, attempts, last_error, created_at, updated_at, delivered_at
		 FROM delivery_jobs WHERE status = 'pending' ORDER BY updated_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending deliveries failed: %w", err)
	}
	defer rows.Close()

	var jobs []models.DeliveryJob
	for rows.Next() {
		j, err := scanDeliveryJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending deliveries iteration failed: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, provider, eventID, targetURL string) error {
	now := nowUTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_jobs
		 SET status = 'delivered', delivered_at = COALESCE(delivered_at, ?), updated_at = ?
		 WHERE provider = ? AND event_id = ? AND target_url = ?`,
		now, now, provider, eventID, targetURL,
	)
	if err != nil {
		return fmt.Errorf("mark delivered failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkAttemptFailed(ctx context.Context, provider, eventID, targetURL, message string, maxAttempts int) error {
	now := nowUTC()
	// Single conditional update: concurrent attempts must not under- or
	// over-count, and only pending rows accumulate failures.
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_jobs
		 SET attempts = attempts + 1,
		     last_error = ?,
		     status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END,
		     updated_at = ?
		 WHERE provider = ? AND event_id = ? AND target_url = ? AND status = 'pending'`,
		message, maxAttempts, now, provider, eventID, targetURL,
	)
	if err != nil {
		return fmt.Errorf("mark attempt failed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDelivery(ctx context.Context, provider, eventID, targetURL string) (*models.DeliveryJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider, event_id, target_url, payload_json, status, attempts, last_error, created_at, updated_at, delivered_at
		 FROM delivery_jobs WHERE provider = ? AND event_id = ? AND target_url = ?`,
		provider, eventID, targetURL,
	)
	j, err := scanDeliveryJobRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery failed: %w", err)
	}
	return &j, nil
}
