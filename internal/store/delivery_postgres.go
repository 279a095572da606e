package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

// Compile-time check that PostgresStore implements DeliveryRepo.
var _ DeliveryRepo = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueDelivery(ctx context.Context, provider, eventID, targetURL, payloadJSON string) error {
	now := nowUTC()
	// Insert-or-ignore: an existing job keeps its original payload.
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_jobs (provider, event_id, target_url, payload_json, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6)
		 ON CONFLICT (provider, event_id, target_url) DO NOTHING`,
		provider, eventID, targetURL, nilIfEmpty(payloadJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue delivery failed: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		slog.Debug("PostgresStore.EnqueueDelivery: job already exists", "provider", provider, "eventID", eventID)
	}
	return nil
}

func (s *PostgresStore) ListPendingDeliveries(ctx context.Context, limit int) ([]models.DeliveryJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, event_id, target_url, payload_json, status, attempts, last_error, created_at, updated_at, delivered_at
		 FROM delivery_jobs WHERE status = 'pending' ORDER BY updated_at ASC LIMIT $1`,
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

func (s *PostgresStore) MarkDelivered(ctx context.Context, provider, eventID, targetURL string) error {
	now := nowUTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_jobs
		 SET status = 'delivered', delivered_at = COALESCE(delivered_at, $1), updated_at = $2
		 WHERE provider = $3 AND event_id = $4 AND target_url = $5`,
		now, now, provider, eventID, targetURL,
	)
	if err != nil {
		return fmt.Errorf("mark delivered failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAttemptFailed(ctx context.Context, provider, eventID, targetURL, message string, maxAttempts int) error {
	now := nowUTC()
	// Single conditional update: concurrent attempts must not under- or
	// over-count, and only pending rows accumulate failures.
	_, err := s.db.ExecContext(ctx,
		`UPDATE delivery_jobs
		 SET attempts = attempts + 1,
		     last_error = $1,
		     status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		     updated_at = $3
		 WHERE provider = $4 AND event_id = $5 AND target_url = $6 AND status = 'pending'`,
		message, maxAttempts, now, provider, eventID, targetURL,
	)
	if err != nil {
		return fmt.Errorf("mark attempt failed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, provider, eventID, targetURL string) (*models.DeliveryJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider, event_id, target_url, payload_json, status, attempts, last_error, created_at, updated_at, delivered_at
		 FROM delivery_jobs WHERE provider = $1 AND event_id = $2 AND target_url = $3`,
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
