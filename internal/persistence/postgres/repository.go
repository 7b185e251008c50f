// Package postgres provides the pgx-backed implementation of the domain
// store interfaces.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/runtheworld/internal/domain"
)

// Repository implements domain.AthleteStore, domain.ActivityStore and
// domain.LocationStatStore on one connection pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateAthlete inserts a new athlete row.
func (r *Repository) CreateAthlete(ctx context.Context, athlete domain.Athlete) error {
	const stmt = `INSERT INTO athletes (athlete_id, sync_status, sync_progress, created_at, updated_at)
        VALUES ($1, $2, $3, NOW(), NOW())`

	status := athlete.SyncStatus
	if status == "" {
		status = domain.SyncStatusNotStarted
	}
	_, err := r.pool.Exec(ctx, stmt, athlete.ID, status, athlete.SyncProgress)
	return err
}

// GetAthlete returns the athlete or nil when no row exists.
func (r *Repository) GetAthlete(ctx context.Context, athleteID string) (*domain.Athlete, error) {
	const query = `SELECT athlete_id, sync_status, sync_progress, sync_total, sync_started_at,
            sync_last_activity_at, last_sync_at, created_at, updated_at
        FROM athletes WHERE athlete_id = $1`

	row := r.pool.QueryRow(ctx, query, athleteID)
	var athlete domain.Athlete
	err := row.Scan(&athlete.ID, &athlete.SyncStatus, &athlete.SyncProgress, &athlete.SyncTotal,
		&athlete.SyncStartedAt, &athlete.SyncLastActivityAt, &athlete.LastSyncAt,
		&athlete.CreatedAt, &athlete.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &athlete, nil
}

// AthleteExists reports whether the athlete row is still present. The engine checks
// this between pages to detect mid-run account deletion.
func (r *Repository) AthleteExists(ctx context.Context, athleteID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM athletes WHERE athlete_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, athleteID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkSyncStarted transitions the athlete into SYNCING. The progress counter
// is left untouched so a resumed run keeps its baseline.
func (r *Repository) MarkSyncStarted(ctx context.Context, athleteID string, startedAt time.Time) error {
	const stmt = `UPDATE athletes
        SET sync_status = $2, sync_started_at = $3, updated_at = NOW()
        WHERE athlete_id = $1`

	return r.execAthlete(ctx, stmt, athleteID, domain.SyncStatusSyncing, startedAt.UTC())
}

// SetSyncTotal persists the best-effort expected activity count.
func (r *Repository) SetSyncTotal(ctx context.Context, athleteID string, total int) error {
	const stmt = `UPDATE athletes SET sync_total = $2, updated_at = NOW() WHERE athlete_id = $1`
	return r.execAthlete(ctx, stmt, athleteID, total)
}

// UpdateSyncProgress persists the progress counter and liveness heartbeat.
func (r *Repository) UpdateSyncProgress(ctx context.Context, athleteID string, update domain.SyncProgressUpdate) error {
	const stmt = `UPDATE athletes
        SET sync_progress = $2, sync_last_activity_at = $3, updated_at = NOW()
        WHERE athlete_id = $1`

	return r.execAthlete(ctx, stmt, athleteID, update.Progress, update.LastActivityAt.UTC())
}

// MarkSyncCompleted records a successful run.
func (r *Repository) MarkSyncCompleted(ctx context.Context, athleteID string, completedAt time.Time) error {
	const stmt = `UPDATE athletes
        SET sync_status = $2, last_sync_at = $3, updated_at = NOW()
        WHERE athlete_id = $1`

	return r.execAthlete(ctx, stmt, athleteID, domain.SyncStatusCompleted, completedAt.UTC())
}

// MarkSyncFailed records a failed run.
func (r *Repository) MarkSyncFailed(ctx context.Context, athleteID string) error {
	const stmt = `UPDATE athletes SET sync_status = $2, updated_at = NOW() WHERE athlete_id = $1`
	return r.execAthlete(ctx, stmt, athleteID, domain.SyncStatusFailed)
}

// ResetSyncState zeroes progress ahead of a clear-and-resync.
func (r *Repository) ResetSyncState(ctx context.Context, athleteID string) error {
	const stmt = `UPDATE athletes
        SET sync_status = $2, sync_progress = 0, sync_total = NULL,
            sync_started_at = NULL, sync_last_activity_at = NULL, updated_at = NOW()
        WHERE athlete_id = $1`

	return r.execAthlete(ctx, stmt, athleteID, domain.SyncStatusNotStarted)
}

// FailStuckSyncs marks every athlete stuck in SYNCING as FAILED.
func (r *Repository) FailStuckSyncs(ctx context.Context) (int64, error) {
	const stmt = `UPDATE athletes SET sync_status = $1, updated_at = NOW() WHERE sync_status = $2`

	tag, err := r.pool.Exec(ctx, stmt, domain.SyncStatusFailed, domain.SyncStatusSyncing)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteAthlete removes the athlete row; tokens, activities and stats cascade.
func (r *Repository) DeleteAthlete(ctx context.Context, athleteID string) error {
	return r.execAthlete(ctx, `DELETE FROM athletes WHERE athlete_id = $1`, athleteID)
}

// execAthlete runs a statement keyed by athlete id and maps a zero-row
// result to ErrAthleteNotFound.
func (r *Repository) execAthlete(ctx context.Context, stmt string, athleteID string, args ...any) error {
	tag, err := r.pool.Exec(ctx, stmt, append([]any{athleteID}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAthleteNotFound
	}
	return nil
}
