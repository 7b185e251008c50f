package domain

import (
	"context"
	"time"
)

// AthleteStore persists athlete rows and their sync-state fields.
type AthleteStore interface {
	CreateAthlete(ctx context.Context, athlete Athlete) error
	// GetAthlete returns nil without error when the athlete does not exist.
	GetAthlete(ctx context.Context, athleteID string) (*Athlete, error)
	AthleteExists(ctx context.Context, athleteID string) (bool, error)
	MarkSyncStarted(ctx context.Context, athleteID string, startedAt time.Time) error
	SetSyncTotal(ctx context.Context, athleteID string, total int) error
	UpdateSyncProgress(ctx context.Context, athleteID string, update SyncProgressUpdate) error
	MarkSyncCompleted(ctx context.Context, athleteID string, completedAt time.Time) error
	MarkSyncFailed(ctx context.Context, athleteID string) error
	// ResetSyncState zeroes progress and totals ahead of a clear-and-resync.
	ResetSyncState(ctx context.Context, athleteID string) error
	// FailStuckSyncs marks every athlete still SYNCING as FAILED and returns
	// the number of rows changed. Run by the shutdown sequence so interrupted
	// runs are visibly resumable instead of silently stuck.
	FailStuckSyncs(ctx context.Context) (int64, error)
	DeleteAthlete(ctx context.Context, athleteID string) error
}

// ActivityStore persists ingested activities.
type ActivityStore interface {
	// InsertActivities inserts activities, ignoring rows whose (athlete,
	// activity) pair already exists. Returns the number of rows inserted.
	InsertActivities(ctx context.Context, activities []Activity) (int64, error)
	// DeleteActivitiesByID removes the athlete's rows matching the given
	// external ids. Used to replace provisional Unknown rows before re-insert.
	DeleteActivitiesByID(ctx context.Context, athleteID string, activityIDs []string) error
	// ResolvedActivityIDs returns the subset of ids that already have a
	// non-Unknown country on file, so enrichment can skip them on resume.
	ResolvedActivityIDs(ctx context.Context, athleteID string, activityIDs []string) (map[string]bool, error)
	CountActivities(ctx context.Context, athleteID string) (int, error)
	ListActivities(ctx context.Context, athleteID string) ([]Activity, error)
	DeleteAllActivities(ctx context.Context, athleteID string) error
}

// LocationStatStore persists the derived per-location aggregate.
type LocationStatStore interface {
	// ReplaceStats atomically swaps the athlete's stat set for the given rows
	// (delete-all-then-insert-all in one transaction).
	ReplaceStats(ctx context.Context, athleteID string, stats []LocationStat) error
	ListStats(ctx context.Context, athleteID string) ([]LocationStat, error)
	DeleteStats(ctx context.Context, athleteID string) error
}

// TokenStore persists provider credentials.
type TokenStore interface {
	// Get returns nil without error when no tokens are stored.
	Get(ctx context.Context, athleteID string) (*Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
	Delete(ctx context.Context, athleteID string) error
}
