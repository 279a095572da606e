package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/WebhookGate/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanDeliveryJob scans a DeliveryJob from sql.Rows.
func scanDeliveryJob(rows *sql.Rows) (models.DeliveryJob, error) {
	var j models.DeliveryJob
	var payloadJSON, lastError sql.NullString
	var deliveredAt sql.NullTime
	err := rows.Scan(
		&j.Provider, &j.EventID, &j.TargetURL, &payloadJSON, &j.Status,
		&j.Attempts, &lastError, &j.CreatedAt, &j.UpdatedAt, &deliveredAt,
	)
	if err != nil {
		return j, fmt.Errorf("scan delivery job failed: %w", err)
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	if deliveredAt.Valid {
		j.DeliveredAt = &deliveredAt.Time
	}
	return j, nil
}

// scanDeliveryJobRow scans a DeliveryJob from a single sql.Row.
func scanDeliveryJobRow(row *sql.Row) (models.DeliveryJob, error) {
	var j models.DeliveryJob
	var payloadJSON, lastError sql.NullString
	var deliveredAt sql.NullTime
	err := row.Scan(
		&j.Provider, &j.EventID, &j.TargetURL, &payloadJSON, &j.Status,
		&j.Attempts, &lastError, &j.CreatedAt, &j.UpdatedAt, &deliveredAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	if deliveredAt.Valid {
		j.DeliveredAt = &deliveredAt.Time
	}
	return j, nil
}

// scanAPIKeyRow scans an ApiKey from a single sql.Row.
func scanAPIKeyRow(row *sql.Row) (models.ApiKey, error) {
	var k models.ApiKey
	var lastUsedAt sql.NullTime
	err := row.Scan(&k.ID, &k.KeyHash, &k.Label, &k.Plan, &k.IsActive, &k.CreatedAt, &lastUsedAt)
	if err != nil {
		return k, err
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	return k, nil
}

// scanClaimRow scans an IdempotencyClaim from a single sql.Row.
func scanClaimRow(row *sql.Row) (models.IdempotencyClaim, error) {
	var c models.IdempotencyClaim
	var completedAt sql.NullTime
	err := row.Scan(&c.Key, &c.Status, &c.CreatedAt, &completedAt)
	if err != nil {
		return c, err
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}
