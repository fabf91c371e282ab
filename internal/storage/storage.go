package storage

import (
	"context"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendStarskey = "starskey"
)

// Storage is the key-value store behind registry profiles and the session
// token. Values are opaque strings; callers own their encoding.
type Storage interface {
	// Get returns the value for key.
	// Returns:
	//   - value: the stored string, empty when not found
	//   - found: false if the key does not exist
	//   - err: any error from the backend
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the backend.
	Close() error
}

// ScanRecord is one completed or failed aggregation pass.
type ScanRecord struct {
	ID           int64     `json:"id"`
	RegistryID   string    `json:"registry_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	Repositories int       `json:"repositories"`
	Degraded     int       `json:"degraded"`
	Error        string    `json:"error,omitempty"`
}

// HistoryStore is implemented by backends that keep scan history.
type HistoryStore interface {
	// RecordScan appends a scan record.
	RecordScan(ctx context.Context, rec ScanRecord) error

	// GetScanHistory returns records for registryID, most recent first.
	// limit <= 0 returns everything.
	GetScanHistory(ctx context.Context, registryID string, limit int) ([]ScanRecord, error)
}

// Open creates the backend named by backend at path. For sqlite path is the
// database file; for starskey it is a directory.
func Open(backend, path string) (Storage, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLiteStorage(path)
	case BackendStarskey:
		return NewStarskeyStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
