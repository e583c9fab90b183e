package store

import (
	"fmt"
	"log/slog"
	"time"
)

// RecordInbound inserts a dedup record for a provider message ID.
// Returns false when the ID was already recorded, meaning the webhook
// delivery is a retry and must not produce a second reply.
func (s *PostgresStore) RecordInbound(providerID, sender string) (bool, error) {
	if providerID == "" {
		// No provider ID means nothing to dedup on; treat as first delivery.
		return true, nil
	}
	res, err := s.db.Exec(
		"INSERT INTO inbound_dedup (provider_id, sender, received_at) VALUES ($1, $2, $3) ON CONFLICT (provider_id) DO NOTHING",
		providerID, sender, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore.RecordInbound: insert failed", "providerID", providerID, "error", err)
		return false, fmt.Errorf("failed to record inbound message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.RecordInbound: duplicate delivery", "providerID", providerID)
		return false, nil
	}
	return true, nil
}
