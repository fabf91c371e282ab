package api

import "time"

// Timeouts for API operations
const (
	// ScanTimeout bounds one aggregation triggered by a request.
	ScanTimeout = 2 * time.Minute

	// ProbeTimeout bounds a connection test.
	ProbeTimeout = 15 * time.Second

	// DeleteTimeout bounds the two-phase tag deletion.
	DeleteTimeout = 30 * time.Second

	// SSEHeartbeatInterval keeps event streams alive through idle proxies.
	SSEHeartbeatInterval = 15 * time.Second
)

// Default page size for scan history.
const DefaultHistoryLimit = 20
