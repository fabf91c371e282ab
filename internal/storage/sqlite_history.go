package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// RecordScan implements HistoryStore.RecordScan.
func (s *SQLiteStorage) RecordScan(ctx context.Context, rec ScanRecord) error {
	return s.retryWithBackoff(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scan_history
			(registry_id, started_at, duration_ms, repositories, degraded, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.RegistryID, rec.StartedAt.UTC(), rec.DurationMs, rec.Repositories, rec.Degraded, rec.Error)
		if err != nil {
			return fmt.Errorf("failed to record scan: %w", err)
		}
		return nil
	})
}

// GetScanHistory implements HistoryStore.GetScanHistory.
func (s *SQLiteStorage) GetScanHistory(ctx context.Context, registryID string, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, registry_id, started_at, duration_ms, repositories, degraded, error
		FROM scan_history
		WHERE registry_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, registryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	return scanScanRecords(rows)
}

func scanScanRecords(rows *sql.Rows) ([]ScanRecord, error) {
	records := make([]ScanRecord, 0)
	for rows.Next() {
		var rec ScanRecord
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.RegistryID, &rec.StartedAt, &rec.DurationMs, &rec.Repositories, &rec.Degraded, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan history rows: %w", err)
	}
	return records, nil
}
