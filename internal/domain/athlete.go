// Package domain defines the core types and store contracts for the
// activity location sync service.
package domain

import "time"

// SyncStatus tracks where an athlete is in the sync lifecycle.
type SyncStatus string

const (
	SyncStatusNotStarted SyncStatus = "NOT_STARTED"
	SyncStatusSyncing    SyncStatus = "SYNCING"
	SyncStatusCompleted  SyncStatus = "COMPLETED"
	SyncStatusFailed     SyncStatus = "FAILED"
)

// Athlete is the account whose activities are being synced. The sync fields
// are the observability surface polled by the dashboard.
type Athlete struct {
	ID                 string
	SyncStatus         SyncStatus
	SyncProgress       int
	SyncTotal          *int
	SyncStartedAt      *time.Time
	SyncLastActivityAt *time.Time
	LastSyncAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SyncProgressUpdate carries the progress fields persisted mid-run.
type SyncProgressUpdate struct {
	Progress       int
	LastActivityAt time.Time
}
